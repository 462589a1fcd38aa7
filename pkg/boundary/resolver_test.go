package boundary

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

func newTestResolver() *Resolver {
	return NewResolver(registry.Default(), zerolog.Nop())
}

func singleProviderMap(p string) config.ProviderMap {
	return config.ProviderMap{
		Layer1: p, Layer2: p, Layer3Hot: p, Layer3Cold: p,
		Layer3Archive: p, Layer4: p, Layer5: p,
	}
}

func TestRequiredGlueFunctions_SingleProviderIsEmpty(t *testing.T) {
	for _, p := range []string{"aws", "azure", "google"} {
		m := singleProviderMap(p)
		if p == "google" {
			// google has no managed layer_4/layer_5 twin equivalents in
			// some projects; same-provider everywhere still means no glue.
			m.Layer4 = ""
			m.Layer5 = ""
		}

		set, err := newTestResolver().RequiredGlueFunctions(m)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if len(set) != 0 {
			t.Errorf("%s: expected empty glue set, got %v", p, Names(set))
		}
	}
}

func TestRequiredGlueFunctions_SingleCrossing(t *testing.T) {
	m := singleProviderMap("azure")
	m.Layer3Archive = "aws"

	set, err := newTestResolver().RequiredGlueFunctions(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Fatalf("expected exactly one glue function, got %v", Names(set))
	}

	name := Names(set)[0]
	if !strings.Contains(name, "l3cold_l3archive") || !strings.Contains(name, "azure_to_aws") {
		t.Errorf("glue function %q is not the registered one for the l3cold->l3archive azure->aws crossing", name)
	}
}

func TestRequiredGlueFunctions_SpecScenario(t *testing.T) {
	// Mixed azure/aws map: l2->l3hot, l3hot->l4, and l4->l5 cross;
	// every other adjacent pair shares a provider and contributes nothing.
	m := config.ProviderMap{
		Layer1: "azure", Layer2: "azure",
		Layer3Hot: "aws", Layer3Cold: "aws", Layer3Archive: "aws",
		Layer4: "azure", Layer5: "aws",
	}

	set, err := newTestResolver().RequiredGlueFunctions(m)
	if err != nil {
		t.Fatal(err)
	}

	names := Names(set)
	want := map[string]bool{
		"glue_l2_l3hot_azure_to_aws": true,
		"glue_l3hot_l4_aws_to_azure": true,
		"glue_l4_l5_azure_to_aws":    true,
	}
	if len(names) != len(want) {
		t.Fatalf("glue set = %v, want %d crossings", names, len(want))
	}
	for _, name := range names {
		if !want[name] {
			t.Errorf("unexpected glue function %q", name)
		}
	}
}

func TestRequiredGlueFunctions_SetSemantics(t *testing.T) {
	m := singleProviderMap("aws")
	m.Layer2 = "azure"

	r := newTestResolver()
	first, err := r.RequiredGlueFunctions(m)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.RequiredGlueFunctions(m)
	if err != nil {
		t.Fatal(err)
	}

	// l1->l2 crosses aws->azure and l2->l3hot crosses azure->aws.
	if len(first) != 2 {
		t.Fatalf("expected 2 crossings, got %v", Names(first))
	}
	if len(first) != len(second) {
		t.Error("resolver is not deterministic across calls")
	}
}

func TestCrossings_OptionalEmptySlotSkipped(t *testing.T) {
	m := singleProviderMap("aws")
	m.Layer4 = ""
	m.Layer5 = ""

	crossings, err := newTestResolver().Crossings(m)
	if err != nil {
		t.Fatalf("optional empty layers must be skipped, got %v", err)
	}
	if len(crossings) != 0 {
		t.Errorf("unexpected crossings %v", crossings)
	}
}

func TestCrossings_RequiredEmptySlotFails(t *testing.T) {
	m := singleProviderMap("aws")
	m.Layer3Cold = ""

	if _, err := newTestResolver().Crossings(m); err == nil {
		t.Fatal("expected error for empty required slot")
	} else if !strings.Contains(err.Error(), "layer_3_cold") {
		t.Errorf("error does not name the empty slot: %v", err)
	}
}
