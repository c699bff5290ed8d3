package domain

import "time"

// Rejection reasons recorded in a CycleReport.
const (
	RejectNoCandidates  = "no_candidates"
	RejectDispatchLimit = "dispatch_limit"
	RejectHostLimit     = "host_limit"
	RejectCapacity      = "capacity"
	RejectStoreError    = "store_error"
)

// Placement is one dispatch decision.
type Placement struct {
	VMID     int     `json:"vm_id"`
	HostID   int     `json:"host_id"`
	Priority float64 `json:"priority"`
}

// CycleReport summarizes one scheduling cycle. It is published for observability and is
// never read back by the scheduler.
type CycleReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	Hosts      int            `json:"hosts"`
	PendingVMs int            `json:"pending_vms"`
	Matched    int            `json:"matched"`
	Dispatched []Placement    `json:"dispatched"`
	Rejected   map[string]int `json:"rejected,omitempty"`
	Err        string         `json:"error,omitempty"`
}

// Reject counts one VM left pending for the given reason.
func (r *CycleReport) Reject(reason string) {
	if r.Rejected == nil {
		r.Rejected = make(map[string]int)
	}
	r.Rejected[reason]++
}
