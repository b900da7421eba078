package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

// Acquisition modes.
const (
	ModeMock     = "mock"
	ModeMongo    = "mongo"
	ModeSQL      = "sql"
	ModeBigQuery = "bigquery"
	ModePaystack = "paystack"
	ModeStripe   = "stripe"
)

// ErrUnsupportedMode is returned for a mode with no registered loader.
var ErrUnsupportedMode = errors.New("unsupported source mode")

// Loader acquires one raw record set.
type Loader interface {
	Load(ctx context.Context) ([]domain.RawRecord, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]domain.RawRecord, error)

func (f LoaderFunc) Load(ctx context.Context) ([]domain.RawRecord, error) {
	return f(ctx)
}

// Registry maps mode names to loaders for one side of the reconciliation.
type Registry struct {
	side    domain.Source
	loaders map[string]Loader
}

// NewRegistry creates an empty Registry for side.
func NewRegistry(side domain.Source) *Registry {
	return &Registry{side: side, loaders: make(map[string]Loader)}
}

// Register adds or replaces the loader for mode.
func (r *Registry) Register(mode string, l Loader) {
	r.loaders[mode] = l
}

// Loader returns the loader for mode, or an error wrapping ErrUnsupportedMode.
func (r *Registry) Loader(mode string) (Loader, error) {
	l, ok := r.loaders[mode]
	if !ok {
		return nil, fmt.Errorf("%s mode %q: %w", r.side, mode, ErrUnsupportedMode)
	}
	return l, nil
}

// Modes lists the registered modes in sorted order.
func (r *Registry) Modes() []string {
	modes := make([]string, 0, len(r.loaders))
	for m := range r.loaders {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}
