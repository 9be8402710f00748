package models

// Result is what state managers hand back to callers. Daemon errors are
// converted into Error and never returned raw.
type Result[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// Empty is the payload of results that carry no data.
type Empty struct{}

// OK builds a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed result from an error.
func Fail[T any](err error) Result[T] {
	var zero T
	if err == nil {
		return Result[T]{Success: false, Data: zero}
	}
	return Result[T]{Success: false, Error: err.Error(), Data: zero}
}
