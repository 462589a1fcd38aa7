package preflight

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/cloud"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

// fakeProbe answers existence queries from a set of present names and
// records every reference it was asked about.
type fakeProbe struct {
	present map[string]bool
	asked   []cloud.ResourceRef
}

func (f *fakeProbe) Exists(_ context.Context, ref cloud.ResourceRef) (bool, error) {
	f.asked = append(f.asked, ref)
	return f.present[ref.Name], nil
}

func probesFor(probes map[registry.Provider]*fakeProbe) map[registry.Provider]cloud.ResourceProbe {
	out := make(map[registry.Provider]cloud.ResourceProbe, len(probes))
	for p, probe := range probes {
		out[p] = probe
	}
	return out
}

func TestCheckLayer4_NamesEveryMissingResource(t *testing.T) {
	// Hot storage on Azure, nothing deployed yet: both the Cosmos account
	// and the hot container must appear in one error.
	m := config.ProviderMap{
		Layer1: "azure", Layer2: "azure",
		Layer3Hot: "azure", Layer3Cold: "azure", Layer3Archive: "azure",
		Layer4: "azure",
	}
	azure := &fakeProbe{present: map[string]bool{}}
	c := NewChecker(registry.Default(), probesFor(map[registry.Provider]*fakeProbe{
		registry.ProviderAzure: azure,
	}), zerolog.Nop())

	err := c.CheckLayer(context.Background(), m, registry.LayerTwinGraph, "factory")
	if err == nil {
		t.Fatal("gate passed with no resources present")
	}
	if !IsPreflight(err) {
		t.Fatalf("expected PreflightError, got %T", err)
	}

	msg := err.Error()
	for _, want := range []string{"Cosmos DB Account: not found", "Hot Container: not found"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error does not name %q: %s", want, msg)
		}
	}
	if c.State(registry.LayerTwinGraph) != StateBlocked {
		t.Errorf("state = %s, want blocked", c.State(registry.LayerTwinGraph))
	}
}

func TestCheckLayer_VerifiedWhenResourcesExist(t *testing.T) {
	m := config.ProviderMap{
		Layer1: "azure", Layer2: "azure",
		Layer3Hot: "azure", Layer3Cold: "azure", Layer3Archive: "azure",
		Layer4: "azure",
	}
	azure := &fakeProbe{present: map[string]bool{
		"factory-cosmos-account": true,
		"factory-hot-container":  true,
	}}
	c := NewChecker(registry.Default(), probesFor(map[registry.Provider]*fakeProbe{
		registry.ProviderAzure: azure,
	}), zerolog.Nop())

	if err := c.CheckLayer(context.Background(), m, registry.LayerTwinGraph, "factory"); err != nil {
		t.Fatalf("gate blocked with all resources present: %v", err)
	}
	if c.State(registry.LayerTwinGraph) != StateVerified {
		t.Errorf("state = %s, want verified", c.State(registry.LayerTwinGraph))
	}
}

func TestCheckLayer_CrossBoundaryVerifiesGlueFunction(t *testing.T) {
	// Hot storage on AWS, twin graph on Azure: the gate must also probe
	// the directional glue function on the destination provider.
	m := config.ProviderMap{
		Layer1: "aws", Layer2: "aws",
		Layer3Hot: "aws", Layer3Cold: "aws", Layer3Archive: "aws",
		Layer4: "azure",
	}
	aws := &fakeProbe{present: map[string]bool{"factory-hot": true}}
	azure := &fakeProbe{present: map[string]bool{}}
	c := NewChecker(registry.Default(), probesFor(map[registry.Provider]*fakeProbe{
		registry.ProviderAWS:   aws,
		registry.ProviderAzure: azure,
	}), zerolog.Nop())

	err := c.CheckLayer(context.Background(), m, registry.LayerTwinGraph, "factory")
	if err == nil {
		t.Fatal("gate passed with the glue function missing")
	}
	if !strings.Contains(err.Error(), "glue_l3hot_l4_aws_to_azure") {
		t.Errorf("error does not name the glue function: %v", err)
	}

	if len(azure.asked) != 1 {
		t.Fatalf("destination provider probed %d times, want 1", len(azure.asked))
	}
	if got := azure.asked[0].Name; got != "factory-glue_l3hot_l4_aws_to_azure" {
		t.Errorf("glue probe ref = %s", got)
	}
	if azure.asked[0].Service != "function_app" {
		t.Errorf("glue probed on service %s", azure.asked[0].Service)
	}
}

func TestCheckLayer_FirstLayerHasNoGate(t *testing.T) {
	m := config.ProviderMap{
		Layer1: "aws", Layer2: "aws",
		Layer3Hot: "aws", Layer3Cold: "aws", Layer3Archive: "aws",
	}
	aws := &fakeProbe{present: map[string]bool{}}
	c := NewChecker(registry.Default(), probesFor(map[registry.Provider]*fakeProbe{
		registry.ProviderAWS: aws,
	}), zerolog.Nop())

	if err := c.CheckLayer(context.Background(), m, registry.LayerAcquisition, "factory"); err != nil {
		t.Fatalf("first layer blocked: %v", err)
	}
	if len(aws.asked) != 0 {
		t.Errorf("first layer gate issued %d probes", len(aws.asked))
	}
	if c.State(registry.LayerAcquisition) != StateVerified {
		t.Error("first layer not verified")
	}
}

func TestCheckLayer_EmptyOptionalPredecessorPasses(t *testing.T) {
	// layer_4 empty: the visualization gate has nothing to verify.
	m := config.ProviderMap{
		Layer1: "aws", Layer2: "aws",
		Layer3Hot: "aws", Layer3Cold: "aws", Layer3Archive: "aws",
		Layer5: "aws",
	}
	aws := &fakeProbe{present: map[string]bool{}}
	c := NewChecker(registry.Default(), probesFor(map[registry.Provider]*fakeProbe{
		registry.ProviderAWS: aws,
	}), zerolog.Nop())

	if err := c.CheckLayer(context.Background(), m, registry.LayerVisualization, "factory"); err != nil {
		t.Fatalf("gate blocked on an empty optional predecessor: %v", err)
	}
	if len(aws.asked) != 0 {
		t.Errorf("gate issued %d probes for an undeployed predecessor", len(aws.asked))
	}
}

func TestState_DefaultsToNotChecked(t *testing.T) {
	c := NewChecker(registry.Default(), nil, zerolog.Nop())
	if got := c.State(registry.LayerProcessing); got != StateNotChecked {
		t.Errorf("initial state = %s", got)
	}
}
