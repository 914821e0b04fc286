package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss       = errors.New("remote: cache miss")
	ErrNotStored       = errors.New("remote: item not stored")
	ErrCASConflict     = errors.New("remote: compare-and-swap conflict")
	ErrNoServers       = errors.New("remote: no servers configured or available")
	ErrNotSupported    = errors.New("remote: operation not supported")
	ErrNotNumeric      = errors.New("remote: cannot increment or decrement non-numeric value")
	ErrInvalidCASToken = errors.New("remote: invalid cas token")
	ErrUnknownOption   = errors.New("remote: unknown option")
	ErrBadOptionValue  = errors.New("remote: bad option value")
)

// OptionError reports an option a client refused.
type OptionError struct {
	Option Option
	Value  any
	Err    error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("remote: option %q=%v: %v", e.Option, e.Value, e.Err)
}

func (e *OptionError) Unwrap() error { return e.Err }

// BoolOption, StringOption, DurationOption and IntOption type-check an option
// value for adapters.
func BoolOption(name Option, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, &OptionError{Option: name, Value: v, Err: ErrBadOptionValue}
	}
	return b, nil
}

func StringOption(name Option, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &OptionError{Option: name, Value: v, Err: ErrBadOptionValue}
	}
	return s, nil
}

func DurationOption(name Option, v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		if d < 0 {
			break
		}
		return d, nil
	case int:
		// milliseconds, like the memcached *_TIMEOUT options
		if d < 0 {
			break
		}
		return time.Duration(d) * time.Millisecond, nil
	}
	return 0, &OptionError{Option: name, Value: v, Err: ErrBadOptionValue}
}

func IntOption(name Option, v any) (int, error) {
	n, ok := v.(int)
	if !ok || n < 0 {
		return 0, &OptionError{Option: name, Value: v, Err: ErrBadOptionValue}
	}
	return n, nil
}
