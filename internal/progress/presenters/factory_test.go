package presenters

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressrelay/internal/publisher/memory"
	storemem "github.com/JakeFAU/progressrelay/internal/storage/memory"
)

func TestNewFactoryAutoPicksLinesOffTerminal(t *testing.T) {
	t.Parallel()

	factory, err := NewFactory(FactoryConfig{}, Deps{Out: &bytes.Buffer{}})
	require.NoError(t, err)
	p, err := factory()
	require.NoError(t, err)
	require.IsType(t, &Lines{}, p)
}

func TestNewFactoryCombinesDeps(t *testing.T) {
	t.Parallel()

	metrics, err := NewPrometheus(prometheus.NewRegistry())
	require.NoError(t, err)
	factory, err := NewFactory(FactoryConfig{Mode: ModeLog}, Deps{
		Metrics:   metrics,
		Repo:      storemem.NewTaskStore(),
		Publisher: memory.New(),
	})
	require.NoError(t, err)

	first, err := factory()
	require.NoError(t, err)
	multi, ok := first.(Multi)
	require.True(t, ok)
	require.Len(t, multi, 4)
	require.IsType(t, &Log{}, multi[0])
	require.Same(t, metrics, multi[1])

	second, err := factory()
	require.NoError(t, err)
	require.NotSame(t, multi[2], second.(Multi)[2])
}

func TestNewFactoryRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(FactoryConfig{Mode: "fancy"}, Deps{})
	require.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, IsTerminal(&bytes.Buffer{}))
}
