package parser

import (
	"errors"
	"fmt"
)

// ErrPendingOverflow reports an unterminated tag that grew past the configured limit.
var ErrPendingOverflow = errors.New("pending tag exceeds limit")

// ProtocolError describes input the peer should never have sent. The parser
// recovers from it; it is returned for the caller to log or act on.
type ProtocolError struct {
	Pending int
	Limit   int
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v (pending=%d limit=%d)", e.Err, e.Pending, e.Limit)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
