package creation

import "github.com/google/uuid"

// NewID returns a fresh creation job id.
func NewID() string {
	return uuid.NewString()
}
