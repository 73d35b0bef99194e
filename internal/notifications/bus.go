// Package notifications carries document change events between API instances
// and delivers live-query snapshots to websocket clients.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"framez/internal/observability"
)

// ChangeKind names the mutation that produced a ChangeEvent.
type ChangeKind string

// Change kinds.
const (
	KindInsert ChangeKind = "insert"
	KindUpdate ChangeKind = "update"
	KindDelete ChangeKind = "delete"
)

// ChangeEvent announces that a document in Collection changed. OwnerID is the
// document owner, which lets filtered live queries skip unrelated changes.
type ChangeEvent struct {
	Collection string     `json:"collection"`
	Kind       ChangeKind `json:"kind"`
	DocID      string     `json:"docId"`
	OwnerID    string     `json:"ownerId"`
	At         time.Time  `json:"at"`
}

// Handler receives change events. It is called from the bus goroutine, one event at a time.
type Handler func(ChangeEvent)

// Bus publishes change events and fans them out to every subscriber, including
// subscribers on other API instances for the networked backends.
type Bus interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	// Subscribe registers h until ctx is cancelled. It does not block.
	Subscribe(ctx context.Context, h Handler) error
	Name() string
	Close() error
}

func encodeEvent(ev ChangeEvent) ([]byte, error) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal change event: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal change event: %w", err)
	}
	return ev, nil
}

// dispatch runs h and keeps a panicking handler from killing the subscriber loop.
func dispatch(bus string, h Handler, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("PANIC in change subscriber",
				"bus", bus,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	observability.ChangeEventsTotal.WithLabelValues(bus, string(ev.Kind)).Inc()
	h(ev)
}
