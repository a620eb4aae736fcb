package carmine

import (
	"errors"

	"github.com/bpoweski/carmine/internal/wire"
)

var errUnknownWireKind = errors.New("carmine: unknown wire reply kind")

// decodeReply converts one low-level wire.Reply into an application-level
// Reply, applying the bulk-string tunneling convention: a $-prefixed
// payload of at least two bytes is inspected for carmine's 0x00 '<'
// (binary) or 0x00 '>' (frozen object) marker; anything else is handed
// back as text, except an unmarked payload that starts with the freezer's
// own header (the legacy fallback in decodeBulk), which comes back as a
// thawed object or, if thawing fails, raw bytes. opts.RawBulk bypasses all
// of this and returns the bulk
// payload untouched, exactly as read off the wire.
func decodeReply(v wire.Reply, opts *Parser, freezer Freezer) (Reply, error) {
	switch v.Kind {
	case wire.SimpleString:
		return Reply{Kind: KindSimpleString, Simple: v.Str}, nil
	case wire.Integer:
		return Reply{Kind: KindInteger, Int: v.Int}, nil
	case wire.Err:
		return Reply{Kind: KindError, Err: newReplyError(v.Str)}, nil
	case wire.Bulk:
		return decodeBulk(v, opts, freezer), nil
	case wire.Array:
		if v.ArrayNull {
			return Reply{Kind: KindArray, ArrayNull: true}, nil
		}
		arr := make([]Reply, len(v.Array))
		for i, el := range v.Array {
			r, err := decodeReply(el, opts, freezer)
			if err != nil {
				return Reply{}, err
			}
			arr[i] = r
		}
		return Reply{Kind: KindArray, Array: arr}, nil
	default:
		return Reply{}, errUnknownWireKind
	}
}

func decodeBulk(v wire.Reply, opts *Parser, freezer Freezer) Reply {
	if v.BulkNull {
		return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkNil}}
	}
	if opts != nil && opts.RawBulk {
		return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkRaw, Bytes: v.Bulk}}
	}
	if len(v.Bulk) >= 2 && v.Bulk[0] == 0x00 {
		switch v.Bulk[1] {
		case '>':
			obj, err := thawWith(freezer, v.Bulk[2:], thawOptionsFor(opts))
			if err != nil {
				// A bad frozen payload never crashes the pipeline: the
				// failure takes the reply's slot as an error value.
				return Reply{Kind: KindError, Err: &ReplyError{Prefix: "thaw", Message: "thaw: " + err.Error()}}
			}
			return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkObject, Object: obj}}
		case '<':
			return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkRaw, Bytes: v.Bulk[2:]}}
		}
	}
	// Legacy workaround: an unmarked payload that happens to start with
	// this freezer's own header may still be worth thawing. Kept for
	// reading historic data; never used when writing. Failure here is
	// non-fatal and falls back to raw bytes.
	if freezer != nil && freezer.LooksLikeFrozen(v.Bulk) {
		if obj, err := freezer.Thaw(v.Bulk, thawOptionsFor(opts)); err == nil {
			return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkObject, Object: obj}}
		}
		return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkRaw, Bytes: v.Bulk}}
	}
	return Reply{Kind: KindBulk, Bulk: Bulk{Kind: BulkText, Text: string(v.Bulk)}}
}
