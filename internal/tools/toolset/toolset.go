// Package toolset assembles the full built-in tool suite into one
// registry.
package toolset

import (
	"errors"

	memstore "github.com/moabird/moa/internal/memory"
	"github.com/moabird/moa/internal/sandbox"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/tools/execution"
	"github.com/moabird/moa/internal/tools/filesystem"
	toolmem "github.com/moabird/moa/internal/tools/memory"
	"github.com/moabird/moa/internal/tools/reasoning"
	"github.com/moabird/moa/internal/tools/search"
	"github.com/moabird/moa/internal/workspace"
)

// Options carries the collaborators the tools need. Tracker is
// required; a nil Runner or Memory skips the corresponding group.
type Options struct {
	Tracker *workspace.Tracker
	Runner  sandbox.Runner
	Memory  *memstore.Store
}

// New builds a registry with every built-in tool wired to the given
// collaborators.
func New(opts Options) (*tools.Registry, error) {
	if opts.Tracker == nil {
		return nil, errors.New("toolset: nil workspace tracker")
	}

	reg := tools.NewRegistry()
	if err := filesystem.Register(reg, opts.Tracker); err != nil {
		return nil, err
	}
	if err := search.Register(reg, opts.Tracker); err != nil {
		return nil, err
	}
	if opts.Runner != nil {
		if err := execution.Register(reg, opts.Runner, opts.Tracker.Root()); err != nil {
			return nil, err
		}
	}
	if err := reasoning.Register(reg); err != nil {
		return nil, err
	}
	if opts.Memory != nil {
		if err := toolmem.Register(reg, opts.Memory); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
