// Package bridge carries the typed messages exchanged between the foreground
// façade and the background replay agent. The two contexts never call each
// other directly; control requests flow through a channel of request
// envelopes and completion events fan out to every subscribed foreground
// listener.
package bridge

import (
	"context"
	"errors"
	"sync"
)

// ControlKind identifies a foreground-to-agent control request.
type ControlKind int

const (
	// ControlSyncNow asks the agent to run a replay pass immediately.
	ControlSyncNow ControlKind = iota + 1
	// ControlReportStatus asks the agent for its current status.
	ControlReportStatus
)

// StatusResponse is the agent's answer to a status request.
type StatusResponse struct {
	IsOnline       bool `json:"isOnline"`
	HasPendingWork bool `json:"hasPendingWork"`
}

// SyncComplete is broadcast to all listeners after a replay pass, carrying
// the number of successfully replayed entries.
type SyncComplete struct {
	SyncedCount int `json:"syncedCount"`
}

// ControlMessage is a request envelope. Reply channels must be buffered so
// the agent never blocks on a listener that went away.
type ControlMessage struct {
	Kind   ControlKind
	Status chan StatusResponse // receives the reply to ControlReportStatus
	Done   chan SyncComplete   // receives the pass result for ControlSyncNow, optional
}

// ErrAgentUnavailable is returned when the agent is not consuming control
// messages and the request cannot be delivered.
var ErrAgentUnavailable = errors.New("bridge: background agent unavailable")

const controlBuffer = 16

// Bridge wires the two execution contexts together.
type Bridge struct {
	mu          sync.Mutex
	subscribers map[int]func(SyncComplete)
	nextID      int
	control     chan ControlMessage
}

// New constructs a Bridge.
func New() *Bridge {
	return &Bridge{
		subscribers: make(map[int]func(SyncComplete)),
		control:     make(chan ControlMessage, controlBuffer),
	}
}

// Control exposes the agent-side end of the control channel.
func (b *Bridge) Control() <-chan ControlMessage {
	return b.control
}

// SendControl delivers a control message to the agent without blocking the
// foreground. A full control buffer means the agent stopped consuming.
func (b *Bridge) SendControl(ctx context.Context, msg ControlMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case b.control <- msg:
		return nil
	default:
		return ErrAgentUnavailable
	}
}

// OnSyncComplete registers a listener for completion broadcasts. The
// returned function unsubscribes.
func (b *Bridge) OnSyncComplete(fn func(SyncComplete)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Broadcast fans a completion event out to all subscribed listeners.
func (b *Bridge) Broadcast(event SyncComplete) {
	b.mu.Lock()
	notify := make([]func(SyncComplete), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		notify = append(notify, fn)
	}
	b.mu.Unlock()

	for _, fn := range notify {
		fn(event)
	}
}
