package store

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

// Wire records as they appear in the store's Struct documents. Numbers arrive as float64
// and are converted by weakly typed decoding.

type hostRecord struct {
	ID          int               `mapstructure:"id"`
	Name        string            `mapstructure:"name"`
	ClusterID   int               `mapstructure:"cluster_id"`
	State       string            `mapstructure:"state"`
	TotalCPU    float64           `mapstructure:"total_cpu"`
	TotalMemory float64           `mapstructure:"total_memory"`
	TotalDisk   float64           `mapstructure:"total_disk"`
	UsedCPU     float64           `mapstructure:"used_cpu"`
	UsedMemory  float64           `mapstructure:"used_memory"`
	UsedDisk    float64           `mapstructure:"used_disk"`
	Threshold   float64           `mapstructure:"threshold"`
	RunningVMs  int               `mapstructure:"running_vms"`
	Attributes  map[string]string `mapstructure:"attributes"`
}

type vmRecord struct {
	ID           int     `mapstructure:"id"`
	UID          int     `mapstructure:"uid"`
	GID          int     `mapstructure:"gid"`
	Name         string  `mapstructure:"name"`
	State        string  `mapstructure:"state"`
	CPU          float64 `mapstructure:"cpu"`
	Memory       float64 `mapstructure:"memory"`
	Disk         float64 `mapstructure:"disk"`
	Requirements string  `mapstructure:"requirements"`
	Rank         string  `mapstructure:"rank"`
}

type userRecord struct {
	ID     int    `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	GID    int    `mapstructure:"gid"`
	Groups []int  `mapstructure:"groups"`
}

type aclRecord struct {
	ID       int    `mapstructure:"id"`
	User     string `mapstructure:"user"`
	Resource string `mapstructure:"resource"`
	Rights   string `mapstructure:"rights"`
}

// decode copies a Struct document into out.
func decode(msg *structpb.Struct, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(msg.AsMap()); err != nil {
		return fmt.Errorf("%w: malformed store response: %w", domain.ErrTransport, err)
	}
	return nil
}

// ToDomain converts the record to a host view. Attribute keys are upper-cased.
func (r hostRecord) ToDomain() domain.HostView {
	attrs := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[strings.ToUpper(k)] = v
	}
	return domain.HostView{
		ID:          r.ID,
		Name:        r.Name,
		ClusterID:   r.ClusterID,
		State:       domain.HostState(strings.ToUpper(r.State)),
		TotalCPU:    r.TotalCPU,
		TotalMemory: r.TotalMemory,
		TotalDisk:   r.TotalDisk,
		UsedCPU:     r.UsedCPU,
		UsedMemory:  r.UsedMemory,
		UsedDisk:    r.UsedDisk,
		Threshold:   r.Threshold,
		RunningVMs:  r.RunningVMs,
		Attributes:  attrs,
	}
}

// ToDomain converts the record to a VM view.
func (r vmRecord) ToDomain() domain.VMView {
	return domain.VMView{
		ID:           r.ID,
		UID:          r.UID,
		GID:          r.GID,
		Name:         r.Name,
		State:        domain.VMState(strings.ToUpper(r.State)),
		CPU:          r.CPU,
		Memory:       r.Memory,
		Disk:         r.Disk,
		Requirements: r.Requirements,
		Rank:         r.Rank,
	}
}

// ToDomain converts the record to a user view.
func (r userRecord) ToDomain() domain.UserView {
	return domain.UserView{
		ID:     r.ID,
		Name:   r.Name,
		GID:    r.GID,
		Groups: r.Groups,
	}
}

// ToDomain parses the record into an ACL rule.
func (r aclRecord) ToDomain() (domain.ACLRule, error) {
	return domain.ParseACLRule(r.ID, r.User, r.Resource, r.Rights)
}

// Record encoders, used by the fake store and by tests.

// HostRecord encodes a host view as a Struct-compatible map.
func HostRecord(h domain.HostView) map[string]any {
	attrs := make(map[string]any, len(h.Attributes))
	for k, v := range h.Attributes {
		attrs[k] = v
	}
	return map[string]any{
		"id":           h.ID,
		"name":         h.Name,
		"cluster_id":   h.ClusterID,
		"state":        string(h.State),
		"total_cpu":    h.TotalCPU,
		"total_memory": h.TotalMemory,
		"total_disk":   h.TotalDisk,
		"used_cpu":     h.UsedCPU,
		"used_memory":  h.UsedMemory,
		"used_disk":    h.UsedDisk,
		"threshold":    h.Threshold,
		"running_vms":  h.RunningVMs,
		"attributes":   attrs,
	}
}

// VMRecord encodes a VM view as a Struct-compatible map.
func VMRecord(v domain.VMView) map[string]any {
	return map[string]any{
		"id":           v.ID,
		"uid":          v.UID,
		"gid":          v.GID,
		"name":         v.Name,
		"state":        string(v.State),
		"cpu":          v.CPU,
		"memory":       v.Memory,
		"disk":         v.Disk,
		"requirements": v.Requirements,
		"rank":         v.Rank,
	}
}

// UserRecord encodes a user view as a Struct-compatible map.
func UserRecord(u domain.UserView) map[string]any {
	groups := make([]any, len(u.Groups))
	for i, g := range u.Groups {
		groups[i] = g
	}
	return map[string]any{
		"id":     u.ID,
		"name":   u.Name,
		"gid":    u.GID,
		"groups": groups,
	}
}

// ACLRecord encodes an ACL rule as a Struct-compatible map.
func ACLRecord(r domain.ACLRule) map[string]any {
	return map[string]any{
		"id":       r.ID,
		"user":     r.User.String(),
		"resource": r.ResourceType + "/" + r.Resource.String(),
		"rights":   r.Rights.String(),
	}
}
