package models

import "github.com/google/uuid"

// User is the authenticated caller as asserted by the session service's JWT.
// Token issuance lives outside this service; we only carry the claims we need
// to attribute uploads and enforce ownership.
type User struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}
