package registry

import (
	"strings"
	"testing"
)

func TestDefault_GlueCoversEveryCrossingPair(t *testing.T) {
	r := Default()

	for _, boundary := range AdjacentBoundaries() {
		for _, src := range AllProviders() {
			for _, dst := range AllProviders() {
				if src == dst {
					if _, ok := r.GlueFunction(src, dst, boundary); ok {
						t.Errorf("unexpected glue function for same-provider pair %s on %s", src, boundary)
					}
					continue
				}

				def, ok := r.GlueFunction(src, dst, boundary)
				if !ok {
					t.Fatalf("no glue function for %s -> %s on %s", src, dst, boundary)
				}
				if def.Layer != LayerGlue {
					t.Errorf("glue function %s has layer %s, want %s", def.Name, def.Layer, LayerGlue)
				}
				if !def.SupportsProvider(dst) {
					t.Errorf("glue function %s does not support its destination provider %s", def.Name, dst)
				}
				if def.SupportsProvider(src) {
					t.Errorf("glue function %s should only be hosted on the destination provider", def.Name)
				}
			}
		}
	}
}

func TestDefault_GlueNamesAreDirectional(t *testing.T) {
	r := Default()
	boundary := Boundary{From: LayerProcessing, To: LayerHotStorage}

	ab, ok := r.GlueFunction(ProviderAzure, ProviderAWS, boundary)
	if !ok {
		t.Fatal("missing azure->aws glue for l2->l3hot")
	}
	ba, ok := r.GlueFunction(ProviderAWS, ProviderAzure, boundary)
	if !ok {
		t.Fatal("missing aws->azure glue for l2->l3hot")
	}

	if ab.Name == ba.Name {
		t.Errorf("directional glue functions share a name: %s", ab.Name)
	}
	if !strings.Contains(ab.Name, "azure_to_aws") {
		t.Errorf("glue name %q does not encode direction", ab.Name)
	}
}

func TestFunctionsFor_FiltersByProviderAndSorts(t *testing.T) {
	r := Default()

	defs := r.FunctionsFor(LayerTwinGraph, ProviderGoogle)
	if len(defs) != 0 {
		t.Errorf("expected no layer_4 functions on google, got %d", len(defs))
	}

	defs = r.FunctionsFor(LayerProcessing, ProviderAzure)
	if len(defs) != 2 {
		t.Fatalf("expected 2 processing functions on azure, got %d", len(defs))
	}
	if defs[0].Name > defs[1].Name {
		t.Errorf("functions not sorted: %s before %s", defs[0].Name, defs[1].Name)
	}
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := New()
	def := FunctionDefinition{Name: "ingest", Layer: LayerAcquisition, Providers: allProvidersSet()}

	if err := r.Register(def); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := r.Register(def); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestLayerOptional(t *testing.T) {
	for _, layer := range MappedLayers() {
		optional := layer.Optional()
		want := layer == LayerTwinGraph || layer == LayerVisualization
		if optional != want {
			t.Errorf("layer %s: Optional() = %v, want %v", layer, optional, want)
		}
	}
}

func TestParseProvider(t *testing.T) {
	if _, ok := ParseProvider("oracle"); ok {
		t.Error("expected unknown provider to be rejected")
	}
	p, ok := ParseProvider("azure")
	if !ok || p != ProviderAzure {
		t.Errorf("ParseProvider(azure) = %v, %v", p, ok)
	}
	if _, ok := ParseProvider(""); !ok {
		t.Error("empty provider string must parse; optionality is decided per layer")
	}
	if Provider("").Valid() {
		t.Error("empty provider must not be Valid")
	}
}

func TestDefault_FlagGatedFunctions(t *testing.T) {
	r := Default()

	want := map[string]OptimizationFlag{
		"event_feedback": FlagEventFeedback,
		"dashboard_sync": FlagDashboard,
		"archive_mover":  FlagArchiveTier,
		"device_ingest":  "",
		"hot_writer":     "",
	}
	for name, flag := range want {
		def, ok := r.Function(name)
		if !ok {
			t.Fatalf("%s missing from catalog", name)
		}
		if def.Flag != flag {
			t.Errorf("%s flag = %q, want %q", name, def.Flag, flag)
		}
	}
}
