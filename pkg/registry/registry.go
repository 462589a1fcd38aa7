package registry

import (
	"fmt"
	"sort"
	"sync"
)

// glueKey identifies the glue function for one (source provider,
// destination provider, boundary) triple.
type glueKey struct {
	src      Provider
	dst      Provider
	boundary Boundary
}

// Registry is the static function catalog. It is populated once at
// process start and read-only afterwards; the mutex only guards against
// registration racing an early lookup in tests.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]FunctionDefinition
	byLayer   map[Layer][]string
	glue      map[glueKey]string
}

// New returns an empty registry. Most callers want Default instead.
func New() *Registry {
	return &Registry{
		functions: make(map[string]FunctionDefinition),
		byLayer:   make(map[Layer][]string),
		glue:      make(map[glueKey]string),
	}
}

// Register adds a function definition to the catalog. Registering a
// duplicate name is a programming error and is rejected.
func (r *Registry) Register(def FunctionDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Name == "" {
		return fmt.Errorf("function definition has no name")
	}
	if _, exists := r.functions[def.Name]; exists {
		return fmt.Errorf("function %q already registered", def.Name)
	}

	r.functions[def.Name] = def
	r.byLayer[def.Layer] = append(r.byLayer[def.Layer], def.Name)
	return nil
}

// RegisterGlue adds a glue function for the given directional boundary
// crossing and records it in the catalog under LayerGlue.
func (r *Registry) RegisterGlue(src, dst Provider, boundary Boundary, def FunctionDefinition) error {
	if src == dst {
		return fmt.Errorf("glue function %q registered for non-crossing boundary %s", def.Name, boundary)
	}

	def.Layer = LayerGlue
	if err := r.Register(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.glue[glueKey{src: src, dst: dst, boundary: boundary}] = def.Name
	return nil
}

// Function returns the definition for name.
func (r *Registry) Function(name string) (FunctionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.functions[name]
	return def, ok
}

// FunctionsFor returns all functions of a layer that the given provider
// can host, sorted by name for deterministic bundling.
func (r *Registry) FunctionsFor(layer Layer, p Provider) []FunctionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.byLayer[layer]...)
	sort.Strings(names)

	defs := make([]FunctionDefinition, 0, len(names))
	for _, name := range names {
		def := r.functions[name]
		if def.SupportsProvider(p) {
			defs = append(defs, def)
		}
	}
	return defs
}

// GlueFunction returns the glue function registered for the exact
// (source, destination, boundary) triple.
func (r *Registry) GlueFunction(src, dst Provider, boundary Boundary) (FunctionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.glue[glueKey{src: src, dst: dst, boundary: boundary}]
	if !ok {
		return FunctionDefinition{}, false
	}
	return r.functions[name], true
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions)
}

// allProvidersSet returns a provider set containing every provider.
func allProvidersSet() map[Provider]bool {
	set := make(map[Provider]bool, 3)
	for _, p := range AllProviders() {
		set[p] = true
	}
	return set
}

// Default builds the built-in catalog: the per-layer system functions and
// one directional glue function for every (source, destination, boundary)
// combination. Glue functions are hosted on the destination provider of
// their boundary, the side that must accept the data.
func Default() *Registry {
	r := New()

	system := []FunctionDefinition{
		{Name: "device_ingest", Layer: LayerAcquisition, Providers: allProvidersSet(), Dir: "device_ingest"},
		{Name: "event_processor", Layer: LayerProcessing, Providers: allProvidersSet(), Dir: "event_processor"},
		{Name: "event_feedback", Layer: LayerProcessing, Providers: allProvidersSet(), Optional: true, Flag: FlagEventFeedback, Dir: "event_feedback"},
		{Name: "hot_writer", Layer: LayerHotStorage, Providers: allProvidersSet(), Dir: "hot_writer"},
		{Name: "cold_mover", Layer: LayerColdStorage, Providers: allProvidersSet(), Dir: "cold_mover"},
		{Name: "archive_mover", Layer: LayerArchiveStorage, Providers: allProvidersSet(), Flag: FlagArchiveTier, Dir: "archive_mover"},
		{
			Name:  "twin_updater",
			Layer: LayerTwinGraph,
			// Google has no managed digital-twin service; layer_4 on
			// Google is expressed through layer optionality instead.
			Providers: map[Provider]bool{ProviderAWS: true, ProviderAzure: true},
			Optional:  true,
			Dir:       "twin_updater",
		},
		{
			Name:      "dashboard_sync",
			Layer:     LayerVisualization,
			Providers: map[Provider]bool{ProviderAWS: true, ProviderGoogle: true},
			Optional:  true,
			Flag:      FlagDashboard,
			Dir:       "dashboard_sync",
		},
	}

	for _, def := range system {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}

	for _, boundary := range AdjacentBoundaries() {
		for _, src := range AllProviders() {
			for _, dst := range AllProviders() {
				if src == dst {
					continue
				}
				name := fmt.Sprintf("glue_%s_%s_to_%s", boundary.Slug(), src, dst)
				def := FunctionDefinition{
					Name:      name,
					Providers: map[Provider]bool{dst: true},
					Optional:  true,
					Dir:       "glue/" + name,
				}
				if err := r.RegisterGlue(src, dst, boundary, def); err != nil {
					panic(err)
				}
			}
		}
	}

	return r
}
