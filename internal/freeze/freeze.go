// Package freeze defines the boundary between carmine and an application's
// own object serialization: a small interface and a usable default so the
// rest of the module (coercion, the wire decoder, tundra) has something
// concrete to call.
package freeze

import (
	"bytes"
	"encoding/gob"
	"errors"
)

// ThawOptions carries per-request hints to Thaw, threaded through from a
// request's parser options. The default Freezer below ignores it; it
// exists so custom Freezer implementations have
// somewhere to receive caller intent (a target type registry, a strict
// mode, and so on) without changing the Freezer interface.
type ThawOptions struct {
	Hints map[string]any
}

// Freezer serializes arbitrary application values to bytes for tunneling
// inside a bulk string behind the frozen-object marker, and reverses the
// process on decode. LooksLikeFrozen supports the legacy
// opportunistic-deserialization fallback: a bulk payload that was never
// tagged with carmine's own marker, but happens to start with this
// Freezer's header, may still be worth trying to thaw.
type Freezer interface {
	Freeze(v any) ([]byte, error)
	Thaw(b []byte, opts ThawOptions) (any, error)
	LooksLikeFrozen(b []byte) bool
}

// gobHeader is not a real on-wire marker (encoding/gob has no fixed magic
// header of its own); it is this package's private framing so
// LooksLikeFrozen has something concrete to check. Values frozen by a
// different Freezer will not match it, which is the right behavior for the
// legacy fallback: only opportunistically retry payloads this Freezer
// itself could plausibly have written.
var gobHeader = []byte("\x00gob")

// GobFreezer is the default Freezer, built on encoding/gob. The Freezer
// boundary is a pluggable collaborator; callers with real interop needs
// are expected to supply their own implementation.
type GobFreezer struct{}

func (GobFreezer) Freeze(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(gobHeader)
	if v == nil {
		// A bare header is the frozen form of nil; gob itself cannot
		// encode a nil interface.
		return buf.Bytes(), nil
	}
	// Interface transmission requires the concrete type be registered.
	// Registering here covers same-process round trips; values thawed in
	// a different process need the caller to gob.Register the type there
	// as well.
	gob.Register(v)
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobFreezer) Thaw(b []byte, _ ThawOptions) (any, error) {
	if !(GobFreezer{}).LooksLikeFrozen(b) {
		return nil, errNotFrozen
	}
	if len(b) == len(gobHeader) {
		return nil, nil
	}
	var v any
	if err := gob.NewDecoder(bytes.NewReader(b[len(gobHeader):])).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (GobFreezer) LooksLikeFrozen(b []byte) bool {
	return bytes.HasPrefix(b, gobHeader)
}

var errNotFrozen = errors.New("freeze: payload does not carry a gob header")
