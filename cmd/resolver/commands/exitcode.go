package commands

// Coder is implemented by errors that carry a specific process exit
// code (spec.md §6: 0 clean, 1 unrecoverable init failure, 2
// configuration invalid, 130 on signal-initiated shutdown).
type Coder interface {
	Code() int
}

// ExitCode extracts the process exit code a command's error wants, or
// 1 for any other non-nil error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if c, ok := err.(Coder); ok {
		return c.Code()
	}
	return 1
}
