// internal/models/user.go
package models

import "github.com/google/uuid"

// User is a registered identity. Durable identity storage is owned by an
// external service; the engine only needs the id/username pair it is handed
// at registration time.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	IsEphemeral bool      `json:"is_ephemeral"`
}
