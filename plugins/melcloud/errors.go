package melcloud

import (
	"fmt"
	"strings"
)

// UnknownDeviceError is returned for a name absent from discovery.
type UnknownDeviceError struct {
	Name string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown melcloud device %q", e.Name)
}

// HTTPStatusError is a non-2xx answer that is not retried.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("melcloud api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}
