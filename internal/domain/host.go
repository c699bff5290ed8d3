package domain

// HostState is the monitoring state reported by the resource store.
type HostState string

const (
	HostStateInit      HostState = "INIT"
	HostStateMonitored HostState = "MONITORED"
	HostStateError     HostState = "ERROR"
	HostStateDisabled  HostState = "DISABLED"
)

// HostView is a snapshot of one physical host, rebuilt every cycle.
type HostView struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	ClusterID int       `json:"cluster_id"`
	State     HostState `json:"state"`

	TotalCPU    float64 `json:"total_cpu"`
	TotalMemory float64 `json:"total_memory"`
	TotalDisk   float64 `json:"total_disk"`
	UsedCPU     float64 `json:"used_cpu"`
	UsedMemory  float64 `json:"used_memory"`
	UsedDisk    float64 `json:"used_disk"`

	// Threshold multiplies the nominal CPU and memory capacity (oversubscription).
	Threshold float64 `json:"threshold"`

	RunningVMs int `json:"running_vms"`

	// Attributes holds monitoring key/value pairs. Keys are upper-case.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MaxCPU returns the threshold-adjusted CPU capacity.
func (h *HostView) MaxCPU() float64 {
	return h.TotalCPU * h.threshold()
}

// MaxMemory returns the threshold-adjusted memory capacity.
func (h *HostView) MaxMemory() float64 {
	return h.TotalMemory * h.threshold()
}

// FreeCPU returns the CPU that can still be allocated on the host.
func (h *HostView) FreeCPU() float64 {
	return h.MaxCPU() - h.UsedCPU
}

// FreeMemory returns the memory that can still be allocated on the host.
func (h *HostView) FreeMemory() float64 {
	return h.MaxMemory() - h.UsedMemory
}

// FreeDisk returns the free disk space. Disk is never oversubscribed.
func (h *HostView) FreeDisk() float64 {
	return h.TotalDisk - h.UsedDisk
}

// Fits reports whether the demand fits in the nominal, threshold-adjusted capacity,
// ignoring current usage.
func (h *HostView) Fits(cpu, memory float64) bool {
	return cpu <= h.MaxCPU() && memory <= h.MaxMemory()
}

// HasCapacity reports whether the demand fits in the capacity that is free right now.
// Hosts that do not report disk capacity are not checked for disk.
func (h *HostView) HasCapacity(cpu, memory, disk float64) bool {
	if cpu > h.FreeCPU() || memory > h.FreeMemory() {
		return false
	}
	if h.TotalDisk > 0 && disk > h.FreeDisk() {
		return false
	}
	return true
}

// Reserve accounts a provisional placement against the view. It is only used by the
// dispatcher within a cycle; the store reflects the real consumption next cycle.
func (h *HostView) Reserve(cpu, memory, disk float64) {
	h.UsedCPU += cpu
	h.UsedMemory += memory
	h.UsedDisk += disk
	h.RunningVMs++
}

func (h *HostView) threshold() float64 {
	if h.Threshold < 1 {
		return 1
	}
	return h.Threshold
}
