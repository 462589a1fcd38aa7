// Package registry holds the static catalog of every deployable pipeline
// function: its name, owning layer, the providers that can host it, and
// whether it is optional. All other packages resolve provider and layer
// identity through the types defined here.
package registry

import "fmt"

// Provider identifies a cloud provider. It is a closed enumeration; raw
// strings from project files must go through ParseProvider.
type Provider string

const (
	// ProviderAWS is Amazon Web Services.
	ProviderAWS Provider = "aws"

	// ProviderAzure is Microsoft Azure.
	ProviderAzure Provider = "azure"

	// ProviderGoogle is Google Cloud Platform.
	ProviderGoogle Provider = "google"
)

// AllProviders lists every supported provider in stable order.
func AllProviders() []Provider {
	return []Provider{ProviderAWS, ProviderAzure, ProviderGoogle}
}

// ParseProvider converts a raw string into a Provider.
// The empty string is returned as-is with ok=true so callers can apply
// per-layer optionality rules; any other unknown value is rejected.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderAWS, ProviderAzure, ProviderGoogle, Provider(""):
		return Provider(s), true
	default:
		return "", false
	}
}

// Valid reports whether p is a known, non-empty provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGoogle:
		return true
	default:
		return false
	}
}

// Layer identifies one slot of the layered pipeline. The values match the
// provider-map keys in the project configuration.
type Layer string

const (
	// LayerGlue is L0: cross-cloud glue functions. It never appears in a
	// provider map; glue functions deploy to the destination provider of
	// their boundary.
	LayerGlue Layer = "layer_0"

	// LayerAcquisition is L1: data acquisition (managed IoT ingestion).
	LayerAcquisition Layer = "layer_1"

	// LayerProcessing is L2: event processing and workflow execution.
	LayerProcessing Layer = "layer_2"

	// LayerHotStorage is the hot tier of L3 storage.
	LayerHotStorage Layer = "layer_3_hot"

	// LayerColdStorage is the cold tier of L3 storage.
	LayerColdStorage Layer = "layer_3_cold"

	// LayerArchiveStorage is the archive tier of L3 storage.
	LayerArchiveStorage Layer = "layer_3_archive"

	// LayerTwinGraph is L4: digital twin / graph management.
	LayerTwinGraph Layer = "layer_4"

	// LayerVisualization is L5: dashboards and visualization.
	LayerVisualization Layer = "layer_5"
)

// MappedLayers lists the layers that carry a provider-map slot, in
// deployment order. LayerGlue is excluded: it has no slot of its own.
func MappedLayers() []Layer {
	return []Layer{
		LayerAcquisition,
		LayerProcessing,
		LayerHotStorage,
		LayerColdStorage,
		LayerArchiveStorage,
		LayerTwinGraph,
		LayerVisualization,
	}
}

// Optional reports whether the layer's provider-map slot may legitimately
// be empty. A provider without a managed twin-graph or dashboard
// equivalent leaves layer_4/layer_5 blank; every other slot is required.
// This is the single source of truth for "skip" versus "fail" on an empty
// slot; call sites must never infer it from string emptiness.
func (l Layer) Optional() bool {
	switch l {
	case LayerTwinGraph, LayerVisualization:
		return true
	default:
		return false
	}
}

// Slug returns a short identifier usable in function names and cache
// paths ("l1", "l3hot", ...).
func (l Layer) Slug() string {
	switch l {
	case LayerGlue:
		return "l0"
	case LayerAcquisition:
		return "l1"
	case LayerProcessing:
		return "l2"
	case LayerHotStorage:
		return "l3hot"
	case LayerColdStorage:
		return "l3cold"
	case LayerArchiveStorage:
		return "l3archive"
	case LayerTwinGraph:
		return "l4"
	case LayerVisualization:
		return "l5"
	default:
		return string(l)
	}
}

// Boundary is a directed edge between two adjacent layers. Data flows
// From -> To; when the two slots resolve to different providers, a glue
// function must carry the data across.
type Boundary struct {
	From Layer
	To   Layer
}

// String returns the boundary in "layer_1->layer_2" form.
func (b Boundary) String() string {
	return fmt.Sprintf("%s->%s", b.From, b.To)
}

// Slug returns a short identifier for the boundary ("l1_l2").
func (b Boundary) Slug() string {
	return b.From.Slug() + "_" + b.To.Slug()
}

// AdjacentBoundaries lists every layer boundary that can require glue, in
// pipeline order. The storage fan-out makes this a fixed list rather than
// a simple window over MappedLayers.
func AdjacentBoundaries() []Boundary {
	return []Boundary{
		{From: LayerAcquisition, To: LayerProcessing},
		{From: LayerProcessing, To: LayerHotStorage},
		{From: LayerHotStorage, To: LayerColdStorage},
		{From: LayerColdStorage, To: LayerArchiveStorage},
		{From: LayerHotStorage, To: LayerTwinGraph},
		{From: LayerTwinGraph, To: LayerVisualization},
	}
}

// FunctionDefinition describes one deployable function in the catalog.
type FunctionDefinition struct {
	// Name is the externally visible function name, unique in the catalog.
	Name string `json:"name"`

	// Layer is the pipeline layer the function belongs to.
	Layer Layer `json:"layer"`

	// Providers is the set of providers able to host this function.
	Providers map[Provider]bool `json:"providers"`

	// Optional marks functions that are only deployed when an
	// optimization flag or boundary requires them.
	Optional bool `json:"optional"`

	// Flag names the optimization toggle gating this function. The zero
	// value means the function always builds. Gating is declared here,
	// in the catalog; call sites must never infer it from the name.
	Flag OptimizationFlag `json:"flag,omitempty"`

	// Dir is the on-disk source directory name, relative to the project's
	// functions root.
	Dir string `json:"dir"`
}

// SupportsProvider reports whether the function can run on p.
func (f FunctionDefinition) SupportsProvider(p Provider) bool {
	return f.Providers[p]
}

// OptimizationFlag identifies the project optimization toggle that can
// gate an optional function.
type OptimizationFlag string

const (
	FlagEventFeedback OptimizationFlag = "event_feedback"
	FlagDashboard     OptimizationFlag = "dashboard"
	FlagArchiveTier   OptimizationFlag = "archive_tier"
)
