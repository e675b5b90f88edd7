package aggregate

import (
	"strings"

	"github.com/gcsops/crm-pipeline/pkg/crm"
)

// TruncatePipe cuts a display name at the first '|' delimiter and trims
// surrounding whitespace. The CRM appends role annotations after the pipe
// ("Jane | GCS Operator"); only the name part is displayed.
func TruncatePipe(name string) string {
	if i := strings.IndexByte(name, '|'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// DisplayName derives the directory display name for a user: first+last
// name, pipe-truncated, falling back to the account identifier and then the
// contact address when still empty.
func DisplayName(u crm.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	name = TruncatePipe(name)
	if name == "" {
		name = strings.TrimSpace(u.UserName)
	}
	if name == "" {
		name = strings.TrimSpace(u.Email)
	}
	return name
}

// FallbackName is the synthetic label for owners the directory has no entry
// for.
func FallbackName(ownerID string) string {
	return "User " + ownerID
}
