package api

import "time"

// DashboardEvent is the wrapper for every message pushed over the
// dashboard WebSocket. Today only "snapshot" is ever sent (BuildSnapshot
// pushed on connect and on the server's broadcast cadence); Type stays a
// string rather than an enum so a future finer-grained event (a single
// fill, a kill-switch trip) can be added without changing the wire shape.
type DashboardEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewSnapshotEvent wraps a DashboardSnapshot for broadcast.
func NewSnapshotEvent(snapshot DashboardSnapshot) DashboardEvent {
	return DashboardEvent{
		Type:      "snapshot",
		Timestamp: snapshot.Timestamp,
		Data:      snapshot,
	}
}
