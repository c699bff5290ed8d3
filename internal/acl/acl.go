// Package acl decides whether a user may deploy VMs on a host, from the ACL rules
// published by the resource store.
package acl

import (
	"github.com/limiquantix/quantix-sched/internal/domain"
)

// ResourceHost is the ACL resource type of hosts.
const ResourceHost = "HOST"

// Authorizer answers deploy permission questions for one cycle.
type Authorizer interface {
	CanDeploy(user *domain.UserView, host *domain.HostView) bool
}

// AllowAll grants every request.
type AllowAll struct{}

// CanDeploy implements Authorizer.
func (AllowAll) CanDeploy(*domain.UserView, *domain.HostView) bool { return true }

// Engine evaluates a fixed rule set. Rules are indexed by user selector so a request only
// inspects the rules that apply to everyone, to the user, or to one of the user's groups.
type Engine struct {
	byUser map[domain.ACLSelector][]domain.ACLRule
}

// NewEngine indexes rules. Rules on resource types other than hosts are ignored.
func NewEngine(rules []domain.ACLRule) *Engine {
	e := &Engine{byUser: make(map[domain.ACLSelector][]domain.ACLRule)}
	for _, r := range rules {
		if r.ResourceType != ResourceHost {
			continue
		}
		e.byUser[r.User] = append(e.byUser[r.User], r)
	}
	return e
}

// CanDeploy reports whether any rule grants DEPLOY on host to user. The administrator and
// members of the administrator group are always allowed.
func (e *Engine) CanDeploy(user *domain.UserView, host *domain.HostView) bool {
	if user == nil || host == nil {
		return false
	}
	if user.IsOneAdmin() {
		return true
	}

	if e.match(domain.ACLSelector{Kind: domain.ACLAll}, host) {
		return true
	}
	if e.match(domain.ACLSelector{Kind: domain.ACLIndividual, ID: user.ID}, host) {
		return true
	}
	for _, gid := range user.AllGroups() {
		if e.match(domain.ACLSelector{Kind: domain.ACLGroup, ID: gid}, host) {
			return true
		}
	}
	return false
}

func (e *Engine) match(user domain.ACLSelector, host *domain.HostView) bool {
	for _, r := range e.byUser[user] {
		if !r.Rights.Has(domain.RightDeploy) {
			continue
		}
		switch r.Resource.Kind {
		case domain.ACLAll:
			return true
		case domain.ACLIndividual:
			if r.Resource.ID == host.ID {
				return true
			}
		case domain.ACLCluster, domain.ACLGroup:
			if r.Resource.ID == host.ClusterID {
				return true
			}
		}
	}
	return false
}

// Len returns the number of indexed host rules.
func (e *Engine) Len() int {
	n := 0
	for _, rules := range e.byUser {
		n += len(rules)
	}
	return n
}
