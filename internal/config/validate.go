package config

import (
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/policy"
	"github.com/limiquantix/quantix-sched/internal/scheduler"
)

// Validate checks the configuration and reports every problem found. The returned error
// wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	var result *multierror.Error

	s := c.Scheduler
	if s.Interval <= 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.interval must be positive, got %s", s.Interval))
	}
	if s.MaxVMs < 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.max_vms must not be negative, got %d", s.MaxVMs))
	}
	if s.MaxDispatch < 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.max_dispatch must not be negative, got %d", s.MaxDispatch))
	}
	if s.MaxHost < 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.max_host must not be negative, got %d", s.MaxHost))
	}
	if s.Threshold < 1 {
		result = multierror.Append(result, fmt.Errorf("scheduler.threshold must be at least 1.0, got %g", s.Threshold))
	}
	switch s.Authorization {
	case scheduler.AuthorizationACL, scheduler.AuthorizationNone:
	default:
		result = multierror.Append(result, fmt.Errorf("scheduler.authorization: unknown mode %q", s.Authorization))
	}
	if len(s.Policies) == 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.policies: at least one policy is required"))
	}
	for i, p := range s.Policies {
		if err := policy.Validate(p); err != nil {
			result = multierror.Append(result, fmt.Errorf("scheduler.policies[%d]: %w", i, err))
		}
	}

	if _, err := url.Parse(c.Store.Endpoint); err != nil || c.Store.Endpoint == "" {
		result = multierror.Append(result, fmt.Errorf("store.endpoint: invalid URL %q", c.Store.Endpoint))
	}
	switch c.Store.Protocol {
	case ProtocolConnect, ProtocolGRPC, ProtocolGRPCWeb:
	default:
		result = multierror.Append(result, fmt.Errorf("store.protocol: unknown protocol %q", c.Store.Protocol))
	}
	if c.Store.CallTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("store.call_timeout must be positive, got %s", c.Store.CallTimeout))
	}

	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		result = multierror.Append(result, fmt.Errorf("etcd.endpoints: required when etcd is enabled"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return nil
}
