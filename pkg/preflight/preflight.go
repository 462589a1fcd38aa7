// Package preflight gates each layer's deployment on the live existence
// of the prior layer's resources. Checks are existence-only and never
// mutate cloud state; a failed check blocks the layer before any
// mutating call is issued, and every missing resource is reported in one
// aggregated error.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/cloud"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

// CheckState is the per-layer verification state.
type CheckState string

const (
	// StateNotChecked means the layer gate has not been evaluated yet.
	StateNotChecked CheckState = "not_checked"

	// StateVerified means the prior layer's resources were all found.
	StateVerified CheckState = "verified"

	// StateBlocked means required resources were missing; the layer must
	// not deploy.
	StateBlocked CheckState = "blocked"
)

// Checker evaluates the layer gates for one deployment.
type Checker struct {
	registry *registry.Registry
	probes   map[registry.Provider]cloud.ResourceProbe
	logger   zerolog.Logger

	mu     sync.Mutex
	states map[registry.Layer]CheckState
}

// NewChecker creates a checker over one probe per provider.
func NewChecker(reg *registry.Registry, probes map[registry.Provider]cloud.ResourceProbe, logger zerolog.Logger) *Checker {
	return &Checker{
		registry: reg,
		probes:   probes,
		logger:   logger.With().Str("component", "preflight").Logger(),
		states:   make(map[registry.Layer]CheckState),
	}
}

// State returns the layer's current gate state.
func (c *Checker) State(layer registry.Layer) CheckState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[layer]; ok {
		return s
	}
	return StateNotChecked
}

func (c *Checker) setState(layer registry.Layer, s CheckState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[layer] = s
}

// CheckLayer verifies the gate for one layer: the prior layer's required
// resources must exist, and when the layer sits on a provider boundary,
// the glue function carrying data across must be deployed too. A layer
// with no predecessor, or whose predecessor slot is legitimately empty,
// passes trivially.
func (c *Checker) CheckLayer(
	ctx context.Context,
	m config.ProviderMap,
	layer registry.Layer,
	twinName string,
) error {
	prior, ok := priorLayer(layer)
	if !ok {
		c.setState(layer, StateVerified)
		return nil
	}

	priorProvider, ok := m.Provider(prior)
	if !ok {
		// Optional predecessor left empty: nothing was deployed there,
		// so there is nothing to verify.
		c.setState(layer, StateVerified)
		return nil
	}

	merr := &multierror.Error{ErrorFormat: semicolonList}
	var missing []string

	probe, ok := c.probes[priorProvider]
	if !ok {
		c.setState(layer, StateBlocked)
		return &PreflightError{
			Layer:    layer,
			Provider: priorProvider,
			Err:      fmt.Errorf("no capability adapter for provider %s", priorProvider),
		}
	}

	for _, r := range requiredResources(priorProvider, prior, twinName) {
		exists, err := probe.Exists(ctx, r.ref)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %v", r.display, err))
			continue
		}
		if !exists {
			missing = append(missing, r.display)
			merr = multierror.Append(merr, errors.New(r.display+": not found"))
		}
	}

	// Crossing a provider boundary additionally requires the glue
	// function on the destination side.
	if layerProvider, ok := m.Provider(layer); ok && layerProvider != priorProvider {
		glueMissing, errs := c.checkGlue(ctx, prior, layer, priorProvider, layerProvider, twinName)
		missing = append(missing, glueMissing...)
		merr = multierror.Append(merr, errs...)
	}

	if err := merr.ErrorOrNil(); err != nil {
		c.setState(layer, StateBlocked)
		c.logger.Warn().
			Str("layer", string(layer)).
			Str("provider", string(priorProvider)).
			Strs("missing", missing).
			Msg("Layer gate blocked")
		return &PreflightError{Layer: layer, Provider: priorProvider, Missing: missing, Err: err}
	}

	c.setState(layer, StateVerified)
	c.logger.Debug().Str("layer", string(layer)).Msg("Layer gate verified")
	return nil
}

// checkGlue verifies the directional glue function for a boundary
// crossing exists on the destination provider. It returns the display
// names of missing resources and the findings to aggregate.
func (c *Checker) checkGlue(
	ctx context.Context,
	prior, layer registry.Layer,
	src, dst registry.Provider,
	twinName string,
) (missing []string, errs []error) {
	boundary := registry.Boundary{From: prior, To: layer}
	def, ok := c.registry.GlueFunction(src, dst, boundary)
	if !ok {
		return nil, []error{fmt.Errorf("no glue function registered for boundary %s (%s to %s)", boundary, src, dst)}
	}

	probe, ok := c.probes[dst]
	if !ok {
		return nil, []error{fmt.Errorf("no capability adapter for provider %s", dst)}
	}

	ref := cloud.ResourceRef{Service: functionsServiceFor(dst), Name: twinName + "-" + def.Name}
	exists, err := probe.Exists(ctx, ref)
	if err != nil {
		return nil, []error{fmt.Errorf("glue function %s: %v", def.Name, err)}
	}
	if !exists {
		display := "Glue Function " + def.Name
		return []string{display}, []error{errors.New(display + ": not found")}
	}
	return nil, nil
}

// priorLayer returns the layer whose resources gate the given layer.
func priorLayer(layer registry.Layer) (registry.Layer, bool) {
	for _, b := range registry.AdjacentBoundaries() {
		if b.To == layer {
			return b.From, true
		}
	}
	return "", false
}

// semicolonList renders aggregated findings as one line, every missing
// item named.
func semicolonList(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
