package carmine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bpoweski/carmine/internal/freeze"
)

// ErrNullTerminator is returned at coerce time when an argument's on-wire
// bytes would begin with 0x00 without carmine itself having put it there.
// That byte is the sentinel that begins the in-bulk type markers; letting
// it leak in from caller data would make the decoder misinterpret an
// ordinary bulk reply as binary or frozen.
var ErrNullTerminator = errors.New("carmine: args can't begin with null terminator")

// binaryMarker and frozenMarker are the two-byte in-bulk tunneling
// prefixes. The server stores them as opaque bulk bytes and returns them
// unchanged, so the client can reconstitute the original type on decode.
var (
	binaryMarker = [2]byte{0x00, '<'}
	frozenMarker = [2]byte{0x00, '>'}
)

// Raw wraps bytes that should be sent on the wire exactly as given, with no
// marker prepended. It exists for the rare caller who has already built an
// argument payload and wants coercion to be a no-op. Like text, a Raw
// argument may not begin with 0x00, so a payload carrying carmine's own
// markers (a frozen blob, for one) is rejected.
type Raw []byte

// Binary wraps a byte buffer that should round-trip as carmine's binary
// type: it is tagged with the 0x00 '<' marker so GET et al. hand it back
// as raw bytes rather than text.
type Binary []byte

// CoerceArg converts one application-side value to its on-wire byte
// payload: text and numbers as their UTF-8 form, byte buffers behind the
// binary marker, anything else frozen behind the frozen-object marker.
// freezer may be nil if the caller never passes such a value (attempting
// to do so then fails loudly instead of silently dropping the type).
func CoerceArg(v any, freezer freeze.Freezer) ([]byte, error) {
	switch x := v.(type) {
	case Raw:
		// Sent verbatim, so the leading-null rule applies to the caller's
		// own bytes.
		return checkedBytes([]byte(x))
	case Binary:
		return withMarker(binaryMarker, x), nil
	case string:
		return checkedBytes([]byte(x))
	case []byte:
		// An unwrapped []byte behaves like Binary: this is the common case
		// of passing application bytes without an explicit wrapper.
		return withMarker(binaryMarker, x), nil
	case int:
		return checkedBytes(strconv.AppendInt(nil, int64(x), 10))
	case int64:
		return checkedBytes(strconv.AppendInt(nil, x, 10))
	case int32:
		return checkedBytes(strconv.AppendInt(nil, int64(x), 10))
	case uint64:
		return checkedBytes(strconv.AppendUint(nil, x, 10))
	case float64:
		return checkedBytes(strconv.AppendFloat(nil, x, 'f', -1, 64))
	case float32:
		return checkedBytes(strconv.AppendFloat(nil, float64(x), 'f', -1, 32))
	default:
		if freezer == nil {
			return nil, fmt.Errorf("carmine: value of type %T needs a Freezer to coerce, none configured", v)
		}
		frozen, err := freezer.Freeze(v)
		if err != nil {
			return nil, fmt.Errorf("carmine: freeze argument: %w", err)
		}
		return withMarker(frozenMarker, frozen), nil
	}
}

func withMarker(marker [2]byte, payload []byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = append(out, marker[0], marker[1])
	return append(out, payload...)
}

func checkedBytes(b []byte) ([]byte, error) {
	if len(b) > 0 && b[0] == 0x00 {
		return nil, ErrNullTerminator
	}
	return b, nil
}

// CoerceArgs coerces a command name plus its arguments in one call, as the
// command builder table (commands.go) does for every generated command.
func CoerceArgs(freezer freeze.Freezer, command string, args ...any) ([][]byte, error) {
	out := make([][]byte, 0, 1+len(args))
	cmdBytes, err := CoerceArg(command, freezer)
	if err != nil {
		return nil, err
	}
	out = append(out, cmdBytes)
	for _, a := range args {
		b, err := CoerceArg(a, freezer)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
