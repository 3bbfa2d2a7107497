package generate

import "fmt"

// StatusError is a non-2xx answer from a generation backend.
type StatusError struct {
	Generator string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s generator http status %d", e.Generator, e.Code)
	}
	return fmt.Sprintf("%s generator http status %d: %s", e.Generator, e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }
