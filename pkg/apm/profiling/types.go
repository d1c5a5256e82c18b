package profiling

import "time"

// ProfileType selects what a session records.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
)

// ParseProfileType converts a string to a ProfileType.
func ParseProfileType(s string) (ProfileType, bool) {
	switch pt := ProfileType(s); pt {
	case ProfileCPU, ProfileHeap, ProfileGoroutine:
		return pt, true
	}
	return "", false
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// FunctionStat is the weight of one function in a profile.
type FunctionStat struct {
	Function    string  `json:"function"`
	Flat        int64   `json:"flat"`
	FlatPercent float64 `json:"flat_percent"`
	Cum         int64   `json:"cum"`
	CumPercent  float64 `json:"cum_percent"`
}

// Session is one profiling run.
type Session struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         ProfileType    `json:"type"`
	Status       SessionStatus  `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	StoppedAt    *time.Time     `json:"stopped_at,omitempty"`
	Duration     time.Duration  `json:"duration"`
	AutoStopped  bool           `json:"auto_stopped"`
	SampleType   string         `json:"sample_type,omitempty"`
	SampleUnit   string         `json:"sample_unit,omitempty"`
	Total        int64          `json:"total"`
	TopFunctions []FunctionStat `json:"top_functions,omitempty"`
	ProfileSize  int            `json:"profile_size"`

	HeapAllocStart uint64 `json:"heap_alloc_start"`
	HeapAllocEnd   uint64 `json:"heap_alloc_end"`
	HeapAllocDelta int64  `json:"heap_alloc_delta"`
	Goroutines     int    `json:"goroutines"`

	ArchiveLocation string `json:"archive_location,omitempty"`
	ArchiveError    string `json:"archive_error,omitempty"`

	Error string `json:"error,omitempty"`
}

func (s *Session) clone() *Session {
	c := *s
	if s.StoppedAt != nil {
		t := *s.StoppedAt
		c.StoppedAt = &t
	}
	c.TopFunctions = append([]FunctionStat(nil), s.TopFunctions...)
	return &c
}
