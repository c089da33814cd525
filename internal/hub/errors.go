package hub

import "fmt"

// InvocationError reports a cross-component call whose target or method is
// not registered.
type InvocationError struct {
	Target string
	Method string
	Reason string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s.%s: %s", e.Target, e.Method, e.Reason)
}
