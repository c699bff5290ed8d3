// Package scheduler implements the periodic VM placement cycle: it refreshes the host,
// VM and user snapshots, matches pending VMs against hosts, ranks the candidates with the
// configured policies and dispatches each VM to its best host.
package scheduler

import (
	"time"

	"github.com/limiquantix/quantix-sched/internal/policy"
)

// Authorization modes.
const (
	// AuthorizationACL evaluates the store's ACL rules for every (user, host) pair.
	AuthorizationACL = "acl"
	// AuthorizationNone lets every user deploy on every host.
	AuthorizationNone = "none"
)

// Config holds the scheduler configuration.
type Config struct {
	// Interval is the time between the start of two cycles.
	Interval time.Duration `mapstructure:"interval"`

	// MaxVMs is the maximum number of pending VMs fetched per cycle.
	MaxVMs int `mapstructure:"max_vms"`

	// MaxDispatch is the maximum number of VMs dispatched per cycle (0 = unlimited).
	MaxDispatch int `mapstructure:"max_dispatch"`

	// MaxHost is the maximum number of VMs dispatched to one host per cycle (0 = unlimited).
	MaxHost int `mapstructure:"max_host"`

	// Threshold is the oversubscription factor for hosts that do not report their own.
	Threshold float64 `mapstructure:"threshold"`

	// Authorization selects how deploy permission is decided: "acl" or "none".
	Authorization string `mapstructure:"authorization"`

	// Policies are summed, in order, into each candidate's priority.
	Policies []policy.Config `mapstructure:"policies"`

	// DefaultRank is used by the rank policy for VMs without a rank expression.
	DefaultRank string `mapstructure:"default_rank"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		MaxVMs:        300,
		MaxDispatch:   30,
		MaxHost:       1,
		Threshold:     1.0,
		Authorization: AuthorizationACL,
		Policies:      []policy.Config{{Name: policy.NameRank, Weight: 1}},
	}
}
