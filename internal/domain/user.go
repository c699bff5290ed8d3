package domain

// OneAdminID is the id of both the administrator user and the administrator group.
const OneAdminID = 0

// UserView is the projection of a user needed for authorization checks.
type UserView struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	GID    int    `json:"gid"`
	Groups []int  `json:"groups"`
}

// InGroup reports whether the user belongs to the group, as primary or secondary member.
func (u *UserView) InGroup(gid int) bool {
	if u.GID == gid {
		return true
	}
	for _, g := range u.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// AllGroups returns the primary group followed by the secondary groups, without duplicates.
func (u *UserView) AllGroups() []int {
	groups := []int{u.GID}
	for _, g := range u.Groups {
		if g != u.GID {
			groups = append(groups, g)
		}
	}
	return groups
}

// IsOneAdmin reports whether the user is the administrator or a member of its group.
func (u *UserView) IsOneAdmin() bool {
	return u.ID == OneAdminID || u.InGroup(OneAdminID)
}
