package store

// OpError wraps any failure inside a store operation (I/O, constraint
// violation, corrupt stored JSON) with the name of the failing operation.
// Callers never see raw driver errors; absence of a row is never an error.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "store operation failed: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) error {
	return &OpError{Op: op, Err: err}
}
