package domain

// VMState is the lifecycle state of a virtual machine as reported by the resource store.
type VMState string

const (
	VMStatePending VMState = "PENDING"
	VMStateHold    VMState = "HOLD"
	VMStateActive  VMState = "ACTIVE"
	VMStateStopped VMState = "STOPPED"
	VMStateDone    VMState = "DONE"
	VMStateFailed  VMState = "FAILED"
)

// Candidate is a host a VM may be placed on during the current cycle.
type Candidate struct {
	HostID   int     `json:"host_id"`
	Priority float64 `json:"priority"`
}

// VMView is a snapshot of one pending virtual machine.
type VMView struct {
	ID    int     `json:"id"`
	UID   int     `json:"uid"`
	GID   int     `json:"gid"`
	Name  string  `json:"name"`
	State VMState `json:"state"`

	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Disk   float64 `json:"disk"`

	// Requirements is a boolean expression over host attributes.
	Requirements string `json:"requirements,omitempty"`
	// Rank is a numeric expression over host attributes, consumed by the rank policy.
	Rank string `json:"rank,omitempty"`

	Candidates []Candidate `json:"candidates,omitempty"`
	Dispatched bool        `json:"dispatched"`
}

// IsPending reports whether the VM is waiting to be scheduled.
func (v *VMView) IsPending() bool {
	return v.State == VMStatePending
}

// AddCandidate appends a host to the candidate set with a zero priority.
func (v *VMView) AddCandidate(hostID int) {
	v.Candidates = append(v.Candidates, Candidate{HostID: hostID})
}

// CandidateHostIDs returns the candidate host ids in match order.
func (v *VMView) CandidateHostIDs() []int {
	ids := make([]int, len(v.Candidates))
	for i, c := range v.Candidates {
		ids[i] = c.HostID
	}
	return ids
}

// SetPriorities stores the total priority of each candidate, in candidate order.
func (v *VMView) SetPriorities(priorities []float64) {
	for i := range v.Candidates {
		if i < len(priorities) {
			v.Candidates[i].Priority = priorities[i]
		}
	}
}
