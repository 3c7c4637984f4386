package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameOwnerLen = 48

// NewDocumentName builds a file name that is unique per call, even for the
// same user within the same clock tick.
func NewDocumentName(userID string, now time.Time) string {
	return fmt.Sprintf("plan-%s-%d-%s.pdf", sanitizeOwner(userID), now.UnixNano(), uuid.NewString()[:8])
}

// sanitizeOwner makes the user id safe for filenames.
func sanitizeOwner(userID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(userID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
		if b.Len() >= maxNameOwnerLen {
			break
		}
	}

	owner := strings.Trim(b.String(), "-")
	if owner == "" {
		return "anonymous"
	}
	return owner
}
