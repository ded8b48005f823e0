package core

// Exit codes for the CLI. Signal-based exits follow the 128+N convention.
const (
	// ExitCodeSuccess: every item succeeded (or there was nothing to do).
	ExitCodeSuccess = 0

	// ExitCodeError: the run could not start or failed as a whole.
	ExitCodeError = 1

	// ExitCodePartial: the batch finished but at least one item failed.
	ExitCodePartial = 3

	// ExitCodeSIGINT: interrupted with Ctrl+C (128 + 2).
	ExitCodeSIGINT = 130
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodePartial:
		return "partial failure"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	default:
		return "unknown"
	}
}
