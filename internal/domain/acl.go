package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ACLSelectorKind identifies which entities an ACL selector covers.
type ACLSelectorKind string

const (
	ACLAll        ACLSelectorKind = "*"
	ACLIndividual ACLSelectorKind = "#"
	ACLGroup      ACLSelectorKind = "@"
	ACLCluster    ACLSelectorKind = "%"
)

// ACLSelector matches users (by id or group) or resources (by id or cluster).
type ACLSelector struct {
	Kind ACLSelectorKind `json:"kind"`
	ID   int             `json:"id"`
}

func (s ACLSelector) String() string {
	if s.Kind == ACLAll {
		return "*"
	}
	return fmt.Sprintf("%s%d", s.Kind, s.ID)
}

// ParseACLSelector parses "*", "#<id>", "@<id>" or "%<id>".
func ParseACLSelector(s string) (ACLSelector, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return ACLSelector{Kind: ACLAll}, nil
	}
	if len(s) < 2 {
		return ACLSelector{}, fmt.Errorf("malformed ACL selector %q", s)
	}
	kind := ACLSelectorKind(s[:1])
	switch kind {
	case ACLIndividual, ACLGroup, ACLCluster:
	default:
		return ACLSelector{}, fmt.Errorf("unknown ACL selector kind in %q", s)
	}
	id, err := strconv.Atoi(s[1:])
	if err != nil {
		return ACLSelector{}, fmt.Errorf("malformed ACL selector %q: %w", s, err)
	}
	return ACLSelector{Kind: kind, ID: id}, nil
}

// ACLRights is a bitmask of operations granted by a rule.
type ACLRights uint32

const (
	RightUse ACLRights = 1 << iota
	RightManage
	RightAdmin
	RightCreate
	RightDeploy
)

var rightNames = []struct {
	name  string
	right ACLRights
}{
	{"USE", RightUse},
	{"MANAGE", RightManage},
	{"ADMIN", RightAdmin},
	{"CREATE", RightCreate},
	{"DEPLOY", RightDeploy},
}

// Has reports whether all rights in r are granted.
func (a ACLRights) Has(r ACLRights) bool {
	return a&r == r
}

func (a ACLRights) String() string {
	var parts []string
	for _, rn := range rightNames {
		if a.Has(rn.right) {
			parts = append(parts, rn.name)
		}
	}
	return strings.Join(parts, "+")
}

// ParseACLRights parses a "+"-separated list of right names, e.g. "USE+DEPLOY".
func ParseACLRights(s string) (ACLRights, error) {
	var rights ACLRights
	for _, part := range strings.Split(s, "+") {
		part = strings.ToUpper(strings.TrimSpace(part))
		found := false
		for _, rn := range rightNames {
			if rn.name == part {
				rights |= rn.right
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown ACL right %q", part)
		}
	}
	return rights, nil
}

// ACLRule grants rights on resources of one type to a set of users.
type ACLRule struct {
	ID           int         `json:"id"`
	User         ACLSelector `json:"user"`
	ResourceType string      `json:"resource_type"`
	Resource     ACLSelector `json:"resource"`
	Rights       ACLRights   `json:"rights"`
}

// ParseACLRule builds a rule from its textual parts: user "@1", resource "HOST/%0",
// rights "DEPLOY".
func ParseACLRule(id int, user, resource, rights string) (ACLRule, error) {
	rule := ACLRule{ID: id}

	var err error
	if rule.User, err = ParseACLSelector(user); err != nil {
		return ACLRule{}, err
	}
	if rule.User.Kind == ACLCluster {
		return ACLRule{}, fmt.Errorf("cluster selector %q is not valid for users", user)
	}

	typ, sel, ok := strings.Cut(resource, "/")
	if !ok {
		return ACLRule{}, fmt.Errorf("malformed ACL resource %q", resource)
	}
	rule.ResourceType = strings.ToUpper(strings.TrimSpace(typ))
	if rule.Resource, err = ParseACLSelector(sel); err != nil {
		return ACLRule{}, err
	}

	if rule.Rights, err = ParseACLRights(rights); err != nil {
		return ACLRule{}, err
	}
	return rule, nil
}

func (r ACLRule) String() string {
	return fmt.Sprintf("%s %s/%s %s", r.User, r.ResourceType, r.Resource, r.Rights)
}
