package carmine

import "strings"

// ReplyKind identifies the application-visible shape of a Reply, after
// carmine's tunneled type markers have been peeled back by the session
// layer. It mirrors wire.Kind but BulkKind further splits wire.Bulk into
// the four application-level possibilities: nil, raw bytes, text, or a
// thawed object.
type ReplyKind int

const (
	KindSimpleString ReplyKind = iota
	KindInteger
	KindError
	KindBulk
	KindArray
)

// BulkKind distinguishes how a bulk payload should be handed back to the
// caller once the in-bulk type marker (or raw-bulk? request option) has
// been applied.
type BulkKind int

const (
	BulkNil BulkKind = iota
	BulkRaw
	BulkText
	BulkObject
)

// Bulk is the decoded payload of a BulkString reply.
type Bulk struct {
	Kind   BulkKind
	Bytes  []byte // BulkRaw
	Text   string // BulkText
	Object any    // BulkObject
}

// ReplyError is a server error reply, split into its lowercased prefix
// token ("moved", "ask", "wrongtype", "err", ...) and the full message
// line. The prefix drives cluster-redirect handling and is never
// invented by the client — it is whatever the server sent, lowercased.
type ReplyError struct {
	Prefix  string
	Message string
}

func (e *ReplyError) Error() string { return e.Message }

func newReplyError(line string) *ReplyError {
	prefix := line
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		prefix = line[:i]
	}
	return &ReplyError{Prefix: strings.ToLower(prefix), Message: line}
}

// Reply is one fully-decoded, application-level server reply: a simple
// string, a 64-bit integer, an error, a bulk value (nil | raw | text |
// object), or a possibly-nested array of Replies.
type Reply struct {
	Kind      ReplyKind
	Simple    string
	Int       int64
	Err       *ReplyError
	Bulk      Bulk
	Array     []Reply
	ArrayNull bool
}

// IsError reports whether this reply is a server error, at any nesting
// depth the caller cares to check only the top level of.
func (r Reply) IsError() bool { return r.Kind == KindError }
