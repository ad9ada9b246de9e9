package store

import "time"

// Run describes one analysed experiment run.
type Run struct {
	ID          string
	Seq         int64 // assigned on write; insertion order
	Experiment  string
	Name        string
	HostDir     string
	ResolverDir string
	CloudIP     string

	// GateOpenedAt is zero when the gate never opened.
	GateOpenedAt time.Time

	Stats Stats
}

// Stats mirrors the scan counters of a run.
type Stats struct {
	Moments    int `json:"moments"`
	Ignored    int `json:"ignored"`
	Consumed   int `json:"consumed"`
	Spawned    int `json:"spawned"`
	Dropped    int `json:"dropped"`
	Unfinished int `json:"unfinished"`
}
