package models

import (
	"time"
)

// Envelope wraps an Event with run metadata for the event mirrors
type Envelope struct {
	// Original event
	Event *Event `json:"event"`

	// Run metadata
	RunID        string    `json:"run_id"`
	EmittedAt    time.Time `json:"emitted_at"`
	ProbeNode    string    `json:"probe_node"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping an event
func NewEnvelope(event *Event, runID, probeNode string) *Envelope {
	key := event.Source
	if key == "" {
		key = event.Name
	}

	return &Envelope{
		Event:        event,
		RunID:        runID,
		EmittedAt:    time.Now().UTC(),
		ProbeNode:    probeNode,
		PartitionKey: key, // partition by client for ordering
	}
}
