package thread

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a thread survives without being accessed.
const DefaultTTL = time.Hour

var idPattern = regexp.MustCompile(`^[0-9a-fA-F-]{36}$`)

// ValidID reports whether id has the textual shape of a thread id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// NewID allocates a random thread id.
func NewID() string {
	return uuid.NewString()
}

// RepoURL derives the canonical clone URL for a repository reference given
// as host and path without a scheme.
func RepoURL(repo string) string {
	return "https://" + repo
}

// Meta is the persisted metadata record of a thread.
type Meta struct {
	ThreadID     string    `json:"threadId"`
	RepoURL      string    `json:"repoUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessAt time.Time `json:"lastAccessAt"`
	Step         int       `json:"step"`
}

// validate rejects records that parsed but are not usable.
func (m *Meta) validate(id string) error {
	if m.ThreadID != id {
		return fmt.Errorf("metadata thread id %q does not match directory %q", m.ThreadID, id)
	}
	if m.RepoURL == "" {
		return fmt.Errorf("metadata has no repo url")
	}
	if m.LastAccessAt.IsZero() || m.CreatedAt.IsZero() {
		return fmt.Errorf("metadata has missing timestamps")
	}
	if m.Step < 1 {
		return fmt.Errorf("metadata has invalid step %d", m.Step)
	}
	return nil
}

// Expired reports whether the thread has been idle longer than ttl at now.
func (m *Meta) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.LastAccessAt) > ttl
}
