package cache

import "fmt"

// PanicError wraps a value recovered from a panicking loader.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cache: loader panicked: %v", e.Value)
}
