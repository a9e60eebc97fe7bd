// Package output provides the CLI's response envelope, formatting, and
// error-to-exit-code mapping.
package output

// Exit codes.
const (
	ExitOK       = 0 // Success
	ExitError    = 1 // Generic failure
	ExitUsage    = 2 // Invalid arguments or flags
	ExitAuth     = 3 // Not authenticated / credentials rejected
	ExitNetwork  = 4 // Connection, DNS, or timeout error
	ExitUpstream = 5 // An accounts server returned an error
)

// Error codes for the JSON envelope.
const (
	CodeUsage    = "usage"
	CodeAuth     = "auth_required"
	CodeNetwork  = "network"
	CodeUpstream = "upstream_error"
	CodeInternal = "internal"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeAuth:
		return ExitAuth
	case CodeNetwork:
		return ExitNetwork
	case CodeUpstream:
		return ExitUpstream
	default:
		return ExitError
	}
}
