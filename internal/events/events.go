// Package events defines call lifecycle event records published for
// observability: every direct-call and group-call state transition can be
// recorded as a typed Event and handed to any sink (logging, metrics,
// history storage) without that sink coupling to the state machines
// themselves.
package events

import (
	"encoding/json"
	"time"

	"github.com/sebas/ringrtc/internal/calling"
)

// Type identifies the kind of call event.
type Type string

const (
	TypeOutgoingStarted Type = "call.outgoing_started"
	TypeIncomingStarted Type = "call.incoming_started"
	TypeStateChanged    Type = "call.state_changed"
	TypeEnded           Type = "call.ended"
	TypeGroupJoined     Type = "group_call.joined"
	TypeGroupMemberLeft Type = "group_call.member_left"
	TypeGroupEnded      Type = "group_call.ended"
)

// Event is the common interface every typed event record satisfies.
type Event interface {
	Type() Type
	Subject() string
	Timestamp() time.Time
}

// BaseEvent holds fields common to every event.
type BaseEvent struct {
	EventType Type      `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	CallID    string    `json:"call_id,omitempty"`
}

func (e *BaseEvent) Type() Type          { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }

// Subject returns a dotted routing string for a pub/sub sink:
// "ringrtc.calls.<callId>.<suffix>".
func (e *BaseEvent) Subject() string {
	return "ringrtc.calls." + e.CallID + "." + string(e.EventType)
}

// CallStateChangedEvent fires on every §4.3 state transition.
type CallStateChangedEvent struct {
	BaseEvent
	RemoteUserID calling.UserId          `json:"remote_user_id"`
	State        calling.DirectCallState `json:"state"`
}

// CallEndedEvent fires when a direct call reaches Terminated.
type CallEndedEvent struct {
	BaseEvent
	RemoteUserID calling.UserId     `json:"remote_user_id"`
	Reason       calling.EndedReason `json:"reason"`
	AgeSec       int64              `json:"age_sec,omitempty"`
	TotalDurationMs int64           `json:"total_duration_ms"`
}

// GroupMemberLeftEvent describes a group call's member-churn ratchet, per
// §4.5/§8. The Call Manager does not publish it.
type GroupMemberLeftEvent struct {
	BaseEvent
	DemuxID           calling.DemuxId `json:"demux_id"`
	NewRatchetCounter uint32          `json:"new_ratchet_counter"`
}

// GroupEndedEvent describes a group-call client ending. The Call Manager
// does not publish it.
type GroupEndedEvent struct {
	BaseEvent
	Reason calling.GroupEndReason `json:"reason"`
}

// Marshal serializes any Event to JSON for a sink that only understands
// bytes (a log line, a queue message).
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Sink receives published events. Logging-only in this repository; an
// embedder may plug in a durable sink without the calling packages
// depending on it.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }
