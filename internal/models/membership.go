package models

import (
	"strings"
	"time"
)

// Role is a member's role inside a group.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember || r == RoleViewer
}

// MemberStatus is the lifecycle state of a membership.
type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
)

// MemberColors is the palette used for per-member display colors.
var MemberColors = []string{
	"#E57373", "#64B5F6", "#81C784", "#FFB74D", "#BA68C8",
	"#4DB6AC", "#F06292", "#A1887F", "#90A4AE", "#DCE775",
}

// Membership links a user to a group.
type Membership struct {
	GroupID     string
	UserID      string
	DisplayName string
	Role        Role
	Status      MemberStatus
	Color       string
	JoinedAt    time.Time
	Version     int64
	UpdatedAt   time.Time
}

// Active reports whether the membership is active.
func (m *Membership) Active() bool { return m.Status == MemberActive }

// NormalizeDisplayName returns the form used for display-name collision checks.
func NormalizeDisplayName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
