package chunk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies codec failures so callers can decide between
// "corrupt object" and "unsupported format".
type ErrorKind int

const (
	ErrTruncated ErrorKind = iota
	ErrBadMagic
	ErrUnknownVersion
	ErrUnknownCodec
	ErrHashMismatch
	ErrBodyDecode
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTruncated:
		return "truncated"
	case ErrBadMagic:
		return "bad magic"
	case ErrUnknownVersion:
		return "unknown version"
	case ErrUnknownCodec:
		return "unknown codec"
	case ErrHashMismatch:
		return "hash mismatch"
	case ErrBodyDecode:
		return "body decode"
	default:
		return "unknown"
	}
}

// CodecError is returned for any malformed or unsupported chunk payload.
type CodecError struct {
	Kind   ErrorKind
	Detail string
}

func (e *CodecError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("chunk codec: %s", e.Kind)
	}
	return fmt.Sprintf("chunk codec: %s: %s", e.Kind, e.Detail)
}

func codecErrf(kind ErrorKind, format string, args ...any) *CodecError {
	return &CodecError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsCodecError reports whether err is a CodecError of the given kind.
func IsCodecError(err error, kind ErrorKind) bool {
	var ce *CodecError
	return errors.As(err, &ce) && ce.Kind == kind
}
