package events

import "time"

type SourceStats struct {
	TotalEvents         int64     `json:"total_events"`
	EmptyPolls          int64     `json:"empty_polls"`
	LastEventReceivedAt time.Time `json:"last_event_received_at,omitempty"`
}

type TargetStats struct {
	TotalEvents       int64     `json:"total_events"`
	FailedEvents      int64     `json:"failed_events"`
	LastWriteAt       time.Time `json:"last_write_at,omitempty"`
	ConnectionHealthy bool      `json:"connection_healthy"`
	LastError         string    `json:"last_error,omitempty"`

	// TargetSpecific carries per-implementation counters (kafka
	// delivery reports, postgres batch flushes, folders created).
	TargetSpecific map[string]any `json:"target_specific,omitempty"`
}

type DaemonStats struct {
	State            State     `json:"state"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	SignalsReceived  int64     `json:"signals_received"`
	CheckpointCount  int64     `json:"checkpoint_count"`
	LastCheckpointAt time.Time `json:"last_checkpoint_at,omitempty"`
}

type Stats struct {
	Source SourceStats `json:"source,omitempty"`
	Target TargetStats `json:"target,omitempty"`
	Daemon DaemonStats `json:"daemon,omitempty"`
}
