package channel

import (
	"github.com/JakeFAU/progressrelay/internal/progress"
)

type frameKind string

const (
	kindHello frameKind = "hello"
	kindEvent frameKind = "event"
	kindSync  frameKind = "sync"
	kindAck   frameKind = "ack"
)

// frame is one newline-delimited JSON message on a relay connection.
type frame struct {
	Kind    frameKind       `json:"kind"`
	Session string          `json:"session,omitempty"`
	Event   *progress.Event `json:"event,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
}
