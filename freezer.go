package carmine

import "github.com/bpoweski/carmine/internal/freeze"

// Freezer and ThawOptions are re-exported as aliases of the internal/freeze
// types so callers can reference them without reaching into an internal
// package, while the default implementation and the legacy-sniff fallback
// stay private to this module.
type (
	Freezer     = freeze.Freezer
	ThawOptions = freeze.ThawOptions
)

// DefaultFreezer is the GobFreezer used when a Session is not configured
// with one of its own. See internal/freeze for why gob is this module's
// one stdlib-by-choice boundary.
var DefaultFreezer Freezer = freeze.GobFreezer{}

func thawOptionsFor(p *Parser) ThawOptions {
	if p == nil {
		return ThawOptions{}
	}
	return p.ThawOpts
}

func thawWith(f Freezer, b []byte, opts ThawOptions) (any, error) {
	if f == nil {
		f = DefaultFreezer
	}
	return f.Thaw(b, opts)
}
