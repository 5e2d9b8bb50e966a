package data

// Result is the serializable envelope of an operation outcome.
// Data is set iff Success, Error is set iff !Success.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// ResultOf builds a Result from a Go-native return pair.
func ResultOf[T any](v T, err error) Result[T] {
	if err != nil {
		e, ok := Wrap("", "", err).(*Error)
		if !ok {
			e = NewError(KindInternal, "", "", err)
		}
		return Result[T]{Error: e}
	}

	return Result[T]{Success: true, Data: &v}
}

// Unwrap converts the envelope back into a return pair.
func (r Result[T]) Unwrap() (T, error) {
	var zero T
	if !r.Success {
		if r.Error == nil {
			return zero, ErrInternal
		}
		return zero, r.Error
	}
	if r.Data == nil {
		return zero, nil
	}

	return *r.Data, nil
}
