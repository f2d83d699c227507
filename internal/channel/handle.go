package channel

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// EnvHandle is the environment variable carrying an encoded Handle to worker processes.
const EnvHandle = "PROGRESSRELAY_REPORTER"

// ErrNoRelay signals a handle that does not point at a relay.
var ErrNoRelay = errors.New("reporter handle has no relay address")

// Handle is the transferable description of a session's producer side.
type Handle struct {
	Network string    `json:"network"`
	Address string    `json:"address"`
	Session uuid.UUID `json:"session"`
}

// IsZero reports whether the handle lacks a relay address.
func (h Handle) IsZero() bool {
	return h.Address == ""
}

// MarshalText encodes the handle as URL-safe base64 JSON.
func (h Handle) MarshalText() ([]byte, error) {
	if h.IsZero() {
		return nil, ErrNoRelay
	}
	raw, err := json.Marshal(struct {
		Network string    `json:"network"`
		Address string    `json:"address"`
		Session uuid.UUID `json:"session"`
	}(h))
	if err != nil {
		return nil, fmt.Errorf("marshal handle: %w", err)
	}
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(out, raw)
	return out, nil
}

// UnmarshalText decodes a handle produced by MarshalText.
func (h *Handle) UnmarshalText(text []byte) error {
	raw := make([]byte, base64.RawURLEncoding.DecodedLen(len(text)))
	n, err := base64.RawURLEncoding.Decode(raw, text)
	if err != nil {
		return fmt.Errorf("decode handle: %w", err)
	}
	var decoded struct {
		Network string    `json:"network"`
		Address string    `json:"address"`
		Session uuid.UUID `json:"session"`
	}
	if err := json.Unmarshal(raw[:n], &decoded); err != nil {
		return fmt.Errorf("unmarshal handle: %w", err)
	}
	if decoded.Address == "" {
		return ErrNoRelay
	}
	if decoded.Network == "" {
		decoded.Network = "unix"
	}
	*h = Handle(decoded)
	return nil
}

// Encode returns the text form of the handle.
func (h Handle) Encode() (string, error) {
	text, err := h.MarshalText()
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// Environ returns the NAME=value pair for passing the handle to a child process.
func (h Handle) Environ() (string, error) {
	text, err := h.Encode()
	if err != nil {
		return "", err
	}
	return EnvHandle + "=" + text, nil
}

// ParseHandle decodes the text form of a handle.
func ParseHandle(text string) (Handle, error) {
	var h Handle
	if err := h.UnmarshalText([]byte(text)); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// HandleFromEnv reads EnvHandle. The boolean is false when the variable is unset.
func HandleFromEnv() (Handle, bool, error) {
	text, ok := os.LookupEnv(EnvHandle)
	if !ok || text == "" {
		return Handle{}, false, nil
	}
	h, err := ParseHandle(text)
	if err != nil {
		return Handle{}, true, err
	}
	return h, true, nil
}
