package models

import (
	"time"

	"github.com/google/uuid"
)

// GroupRole is a member's role inside a recording group.
type GroupRole string

const (
	GroupRoleCreator GroupRole = "creator"
	GroupRoleMember  GroupRole = "member"
)

// RecordingGroup is a named set of users whose recordings can be browsed together.
type RecordingGroup struct {
	ID           uuid.UUID `json:"groupId"`
	Name         string    `json:"name"`
	CreatorEmail string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"-"`
}

// GroupMembership is a group as seen by one member.
type GroupMembership struct {
	RecordingGroup
	Role GroupRole `json:"role"`
}
