package stt

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorReason maps a stream failure to a short label for logs and metrics.
// Google ends long streams with OUT_OF_RANGE, which is reported as
// "stream_limit" rather than a transport fault.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStreamClosed), errors.Is(err, io.EOF):
		return "stream_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	switch status.Code(err) {
	case codes.OutOfRange:
		return "stream_limit"
	case codes.Canceled, codes.DeadlineExceeded:
		return "canceled"
	case codes.Unavailable:
		return "unavailable"
	case codes.ResourceExhausted:
		return "quota"
	case codes.Unauthenticated, codes.PermissionDenied:
		return "auth"
	default:
		return "transport"
	}
}
