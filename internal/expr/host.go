package expr

import (
	"strings"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// HostResolver exposes a host's monitoring attributes plus capacity attributes computed
// from the view. Computed attributes shadow reported ones of the same name.
type HostResolver struct {
	Host *domain.HostView
}

// ForHost returns a resolver over h.
func ForHost(h *domain.HostView) HostResolver {
	return HostResolver{Host: h}
}

// Resolve implements Resolver.
func (r HostResolver) Resolve(name string) (Value, bool) {
	h := r.Host
	if h == nil {
		return Unknown, false
	}
	switch key := strings.ToUpper(name); key {
	case "HID", "ID":
		return Number(float64(h.ID)), true
	case "NAME", "HOSTNAME":
		return String(h.Name), true
	case "CLUSTER_ID":
		return Number(float64(h.ClusterID)), true
	case "STATE":
		return String(string(h.State)), true
	case "TOTALCPU":
		return Number(h.TotalCPU), true
	case "TOTALMEMORY":
		return Number(h.TotalMemory), true
	case "MAX_CPU":
		return Number(h.MaxCPU()), true
	case "MAX_MEM":
		return Number(h.MaxMemory()), true
	case "USEDCPU", "CPU_USAGE":
		return Number(h.UsedCPU), true
	case "USEDMEMORY", "MEM_USAGE":
		return Number(h.UsedMemory), true
	case "FREECPU":
		return Number(h.FreeCPU()), true
	case "FREEMEMORY":
		return Number(h.FreeMemory()), true
	case "FREEDISK":
		return Number(h.FreeDisk()), true
	case "RUNNING_VMS":
		return Number(float64(h.RunningVMs)), true
	case "THRESHOLD":
		return Number(h.Threshold), true
	default:
		raw, ok := h.Attributes[key]
		if !ok {
			return Unknown, false
		}
		return Attribute(raw), true
	}
}
