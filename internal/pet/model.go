package pet

import (
	"time"

	"github.com/google/uuid"
)

// Pet is the profile shown on a public share page. The lost flag drives
// the lost-pet banner, which is the whole point of printing the QR tag.
type Pet struct {
	ID        uuid.UUID
	Name      string
	Species   string
	Breed     string
	Bio       string
	PhotoURL  string
	Lost      bool
	CreatedAt time.Time
}
