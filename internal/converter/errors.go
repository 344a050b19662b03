package converter

import (
	"errors"
	"fmt"
)

// ErrNothingConverted is returned when a non-empty rule list yields no entry.
var ErrNothingConverted = errors.New("no rule could be converted")

// ConversionError reports a rule list the converter rejected
type ConversionError struct {
	Sample string // first offending rule, if known
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Sample != "" {
		return fmt.Sprintf("converting rules (sample %q): %v", e.Sample, e.Err)
	}
	return fmt.Sprintf("converting rules: %v", e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
