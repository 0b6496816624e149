// Package audit publishes every settlement state transition to an append-only
// trail. Publishing is fire-and-forget: a sink failure is logged and must
// never roll back or delay a committed settlement.
package audit

import (
	"context"
	"time"
)

type Event struct {
	Kind     string            `json:"kind"`
	RecordID string            `json:"record_id"`
	UserID   string            `json:"user_id,omitempty"`
	Status   string            `json:"status,omitempty"`
	Amount   string            `json:"amount,omitempty"`
	Message  string            `json:"message,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Record(ctx context.Context, evt Event) {}
