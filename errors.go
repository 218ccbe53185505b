package msicfb

import (
	"errors"
	"fmt"

	"github.com/aligator/msicfb/checkpoint"
)

// Error kinds surfaced to callers (spec §7). Errors raised while parsing,
// reading, hashing or writing an image match (via errors.Is) one of these
// sentinels, wrapped through checkpoint for caller-file/line context; a read
// failure caused by an out-of-range address matches both ErrReadFailed and
// ErrMalformed. Errors from a caller-supplied sink are returned unchanged,
// and the File view uses its own sentinels (ErrReadFile, ErrSeekFile,
// ErrReadDir).
var (
	// ErrMalformed covers signature mismatch, short images, out-of-range
	// sector/offset walks, failed mini-stream lookups and corrupt roots.
	ErrMalformed = errors.New("msicfb: malformed CFB image")
	// ErrUnsupported covers projected output that would require DIFAT sectors.
	ErrUnsupported = errors.New("msicfb: unsupported CFB feature")
	// ErrInvalidArgument covers empty input, NOSTREAM lookups and attempts
	// to delete a storage through the signature-replacement path.
	ErrInvalidArgument = errors.New("msicfb: invalid argument")
	// ErrReadFailed covers a stream read that could not satisfy the
	// requested length.
	ErrReadFailed = errors.New("msicfb: stream read failed")
)

func malformed(format string, args ...interface{}) error {
	return checkpoint.Wrap(fmt.Errorf(format, args...), ErrMalformed)
}

func unsupported(format string, args ...interface{}) error {
	return checkpoint.Wrap(fmt.Errorf(format, args...), ErrUnsupported)
}

func invalidArgument(format string, args ...interface{}) error {
	return checkpoint.Wrap(fmt.Errorf(format, args...), ErrInvalidArgument)
}

func readFailed(format string, args ...interface{}) error {
	return checkpoint.Wrap(fmt.Errorf(format, args...), ErrReadFailed)
}
