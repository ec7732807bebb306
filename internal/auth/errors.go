package auth

import "fmt"

// Error reports a login the upstream rejected or answered with a malformed
// response. It is fatal to the calling operation, not to the process.
type Error struct {
	Provider string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s authentication failed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}
