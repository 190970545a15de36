package models

import "time"

type AuditAction string

const (
	ActionUserCreated         AuditAction = "USER_CREATED"
	ActionUserUpdated         AuditAction = "USER_UPDATED"
	ActionUserDeleted         AuditAction = "USER_DELETED"
	ActionUserRoleChanged     AuditAction = "USER_ROLE_CHANGED"
	ActionUserPasswordChanged AuditAction = "USER_PASSWORD_CHANGED"
	ActionContractDeleted     AuditAction = "CONTRACT_DELETED"
)

// AuditLog records a security relevant action. UserID is the actor and
// becomes nil when that account is deleted.
type AuditLog struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    *int64         `json:"user_id,omitempty"`
	Action    AuditAction    `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}
