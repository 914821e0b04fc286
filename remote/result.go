package remote

import (
	"context"
	"errors"
	"sync"
)

// ResultCode mirrors memcached's result numbering.
type ResultCode int

const (
	ResSuccess           ResultCode = 0
	ResFailure           ResultCode = 1
	ResConnectionFailure ResultCode = 3
	ResClientError       ResultCode = 9
	ResServerError       ResultCode = 10
	ResDataExists        ResultCode = 12
	ResNotStored         ResultCode = 14
	ResNotFound          ResultCode = 16
	ResSomeErrors        ResultCode = 19
	ResNoServers         ResultCode = 20
	ResNotSupported      ResultCode = 28
	ResTimeout           ResultCode = 31
)

func (c ResultCode) String() string {
	switch c {
	case ResSuccess:
		return "SUCCESS"
	case ResFailure:
		return "FAILURE"
	case ResConnectionFailure:
		return "CONNECTION FAILURE"
	case ResClientError:
		return "CLIENT ERROR"
	case ResServerError:
		return "SERVER ERROR"
	case ResDataExists:
		return "CONNECTION DATA EXISTS"
	case ResNotStored:
		return "NOT STORED"
	case ResNotFound:
		return "NOT FOUND"
	case ResSomeErrors:
		return "SOME ERRORS WERE REPORTED"
	case ResNoServers:
		return "NO SERVERS DEFINED"
	case ResNotSupported:
		return "ACTION NOT SUPPORTED"
	case ResTimeout:
		return "A TIMEOUT OCCURRED"
	default:
		return "UNKNOWN"
	}
}

// ResultOf maps an error returned by a Client to its result code.
func ResultOf(err error) ResultCode {
	var oe *OptionError
	switch {
	case err == nil:
		return ResSuccess
	case errors.Is(err, ErrCacheMiss):
		return ResNotFound
	case errors.Is(err, ErrNotStored):
		return ResNotStored
	case errors.Is(err, ErrCASConflict):
		return ResDataExists
	case errors.Is(err, ErrNoServers):
		return ResNoServers
	case errors.Is(err, ErrNotSupported):
		return ResNotSupported
	case errors.Is(err, ErrNotNumeric), errors.Is(err, ErrInvalidCASToken), errors.As(err, &oe):
		return ResClientError
	case errors.Is(err, context.DeadlineExceeded):
		return ResTimeout
	default:
		return ResFailure
	}
}

// Recorder keeps the outcome of the last operation. Adapters embed it to
// provide ResultCode and ResultMessage.
type Recorder struct {
	mu   sync.Mutex
	code ResultCode
	msg  string
}

// Record stores the outcome carried by err and returns err unchanged.
func (r *Recorder) Record(err error) error {
	code := ResultOf(err)
	msg := code.String()
	if code == ResFailure || code == ResClientError {
		msg = err.Error()
	}
	r.mu.Lock()
	r.code, r.msg = code, msg
	r.mu.Unlock()
	return err
}

func (r *Recorder) ResultCode() ResultCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

func (r *Recorder) ResultMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msg == "" {
		return ResSuccess.String()
	}
	return r.msg
}
