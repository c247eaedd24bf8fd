package layout

import "fmt"

// DecodeError is returned when a stream holds fewer bytes than a layout needs.
// It always wraps the underlying read error (usually io.ErrUnexpectedEOF).
type DecodeError struct {
	Layout string
	Want   int
	Got    int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding layout %q: need %d bytes, got %d: %v", e.Layout, e.Want, e.Got, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError is returned when values do not match a layout. Field is -1 when
// the error concerns the value count.
type EncodeError struct {
	Layout string
	Field  int
	Reason string
}

func (e *EncodeError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("encoding layout %q: %s", e.Layout, e.Reason)
	}
	return fmt.Sprintf("encoding layout %q field %d: %s", e.Layout, e.Field, e.Reason)
}
