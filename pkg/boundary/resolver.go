// Package boundary computes which cross-provider glue functions a
// deployment needs, purely from the layer->provider mapping and the
// function registry.
package boundary

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

// Crossing is one boundary whose two sides resolve to different
// providers, together with the glue function that bridges it.
type Crossing struct {
	Boundary registry.Boundary
	Source   registry.Provider
	Dest     registry.Provider
	Function registry.FunctionDefinition
}

// Resolver determines the glue-function set for a provider map.
type Resolver struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewResolver creates a resolver bound to the function registry.
func NewResolver(reg *registry.Registry, logger zerolog.Logger) *Resolver {
	return &Resolver{
		registry: reg,
		logger:   logger.With().Str("component", "boundary-resolver").Logger(),
	}
}

// RequiredGlueFunctions walks every adjacent layer boundary and returns
// the set of glue function names required where the two sides' providers
// differ. The result is a set: the same boundary presented twice cannot
// duplicate an archive build.
//
// An empty provider slot on a boundary side is skipped only when the
// registry declares that layer optional; a required slot left empty is an
// error here, never a silent skip.
func (r *Resolver) RequiredGlueFunctions(m config.ProviderMap) (map[string]registry.FunctionDefinition, error) {
	crossings, err := r.Crossings(m)
	if err != nil {
		return nil, err
	}

	set := make(map[string]registry.FunctionDefinition, len(crossings))
	for _, c := range crossings {
		set[c.Function.Name] = c.Function
	}
	return set, nil
}

// Crossings returns the full crossing descriptions in boundary order,
// which preflight uses to verify glue functions exist on the destination
// provider before a dependent layer deploys.
func (r *Resolver) Crossings(m config.ProviderMap) ([]Crossing, error) {
	var crossings []Crossing

	for _, b := range registry.AdjacentBoundaries() {
		src, srcOK := m.Provider(b.From)
		dst, dstOK := m.Provider(b.To)

		if !srcOK {
			if b.From.Optional() {
				continue
			}
			return nil, fmt.Errorf("boundary %s: required layer %s has no provider", b, b.From)
		}
		if !dstOK {
			if b.To.Optional() {
				continue
			}
			return nil, fmt.Errorf("boundary %s: required layer %s has no provider", b, b.To)
		}

		if src == dst {
			continue
		}

		def, ok := r.registry.GlueFunction(src, dst, b)
		if !ok {
			return nil, fmt.Errorf("boundary %s: no glue function registered for %s -> %s", b, src, dst)
		}

		crossings = append(crossings, Crossing{Boundary: b, Source: src, Dest: dst, Function: def})
		r.logger.Debug().
			Str("boundary", b.String()).
			Str("source", string(src)).
			Str("dest", string(dst)).
			Str("function", def.Name).
			Msg("Cross-provider boundary")
	}

	return crossings, nil
}

// Names returns the sorted function names of a glue set, for logs and
// deterministic iteration.
func Names(set map[string]registry.FunctionDefinition) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
