package presenters

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

func TestMultiContinuesPastFailingMember(t *testing.T) {
	t.Parallel()

	first := &countingPresenter{err: errors.New("first")}
	second := &countingPresenter{}
	m := Multi{first, nil, second}

	err := m.Present(context.Background(), evt(uuid.New(), "x", 0, 1, 0))
	require.EqualError(t, err, "first")
	require.Equal(t, 1, second.presented)

	second.err = errors.New("second")
	err = m.Close(context.Background())
	require.Len(t, multierr.Errors(err), 2)
	require.Equal(t, 1, first.closed)
}

type countingPresenter struct {
	err       error
	presented int
	closed    int
}

func (c *countingPresenter) Present(context.Context, progress.Event) error {
	c.presented++
	return c.err
}

func (c *countingPresenter) Close(context.Context) error {
	c.closed++
	return c.err
}
