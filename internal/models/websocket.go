package models

import "encoding/json"

type StoreOp string

const (
	OpWrite         StoreOp = "write"
	OpUpdate        StoreOp = "update"
	OpRead          StoreOp = "read"
	OpDelete        StoreOp = "delete"
	OpAppend        StoreOp = "append"
	OpWatchChildren StoreOp = "watch_children"
	OpWatchValue    StoreOp = "watch_value"
	OpUnwatch       StoreOp = "unwatch"
	OpDefer         StoreOp = "defer"
)

type StoreEventType string

const (
	EventChildAdded StoreEventType = "child_added"
	EventValue      StoreEventType = "value"
)

// StoreRequest is a client-to-gateway frame. WatchID is chosen by the client
// for watch_children/watch_value/unwatch so events can be routed without a
// round trip.
type StoreRequest struct {
	ID      int64                      `json:"id"`
	Op      StoreOp                    `json:"op"`
	Path    string                     `json:"path,omitempty"`
	Value   json.RawMessage            `json:"value,omitempty"`
	Fields  map[string]json.RawMessage `json:"fields,omitempty"`
	WatchID string                     `json:"watchId,omitempty"`
}

// StoreReply is a gateway-to-client frame: a response when ID is set, a
// subscription event when Event is set.
type StoreReply struct {
	ID      int64           `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Found   bool            `json:"found,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	ChildID string          `json:"childId,omitempty"`
	Event   StoreEventType  `json:"event,omitempty"`
	WatchID string          `json:"watchId,omitempty"`
	Key     string          `json:"key,omitempty"`
}
