package models

import "time"

// ShareLink is an invitation to join a group. Only the hash of its token is stored.
type ShareLink struct {
	TokenHash string
	GroupID   string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Usable reports whether the link can still be redeemed at now.
func (l *ShareLink) Usable(now time.Time) bool {
	return l.RevokedAt == nil && now.Before(l.ExpiresAt)
}

// JoinOutcome tells the caller how a join request resolved.
type JoinOutcome string

const (
	JoinOutcomeJoined        JoinOutcome = "JOINED"
	JoinOutcomePending       JoinOutcome = "PENDING_APPROVAL"
	JoinOutcomeAlreadyMember JoinOutcome = "ALREADY_MEMBER"
)

// MembershipResult is returned by a join.
type MembershipResult struct {
	Outcome    JoinOutcome
	Membership *Membership
}
