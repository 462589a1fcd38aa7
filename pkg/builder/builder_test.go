package builder

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/bundle"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

const awsEntrySrc = `def lambda_handler(event, context):
    return {"statusCode": 200}
`

const azureEntrySrc = `import azure.functions as func

app = func.FunctionApp()


@app.route(route="NAME")
def NAME(req: func.HttpRequest) -> func.HttpResponse:
    return func.HttpResponse("ok")
`

// writeFunction stages one function source directory under the project's
// functions root in the given provider's entry-file convention.
func writeFunction(t *testing.T, projectDir, dir, name string, p registry.Provider) {
	t.Helper()

	fnDir := filepath.Join(projectDir, "functions", dir)
	if err := os.MkdirAll(fnDir, 0o755); err != nil {
		t.Fatal(err)
	}

	var entry, src string
	switch p {
	case registry.ProviderAWS:
		entry, src = bundle.EntryFileAWS, awsEntrySrc
	case registry.ProviderGoogle:
		entry, src = bundle.EntryFileGCP, "def entrypoint(request):\n    return \"ok\"\n"
	case registry.ProviderAzure:
		entry, src = bundle.EntryFileAzure, strings.ReplaceAll(azureEntrySrc, "NAME", name)
	}
	if err := os.WriteFile(filepath.Join(fnDir, entry), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func allAWSMap() config.ProviderMap {
	return config.ProviderMap{
		Layer1: "aws", Layer2: "aws",
		Layer3Hot: "aws", Layer3Cold: "aws", Layer3Archive: "aws",
	}
}

func TestBuildAll_ArchivePerFunction(t *testing.T) {
	projectDir := t.TempDir()
	for _, name := range []string{"device_ingest", "event_processor", "hot_writer", "cold_mover"} {
		writeFunction(t, projectDir, name, name, registry.ProviderAWS)
	}

	project := &config.Project{Path: projectDir, ProviderMap: allAWSMap()}
	b := New(registry.Default(), zerolog.Nop())

	paths, err := b.BuildAll(context.Background(), project, nil)
	if err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}

	want := map[ArchiveKey]string{
		{Provider: registry.ProviderAWS, Layer: registry.LayerAcquisition, Function: "device_ingest"}:  "aws/l1_device_ingest.zip",
		{Provider: registry.ProviderAWS, Layer: registry.LayerProcessing, Function: "event_processor"}: "aws/l2_event_processor.zip",
		{Provider: registry.ProviderAWS, Layer: registry.LayerHotStorage, Function: "hot_writer"}:      "aws/l3hot_hot_writer.zip",
		{Provider: registry.ProviderAWS, Layer: registry.LayerColdStorage, Function: "cold_mover"}:     "aws/l3cold_cold_mover.zip",
	}
	if len(paths) != len(want) {
		t.Fatalf("got %d archives, want %d: %v", len(paths), len(want), paths)
	}
	for key, suffix := range want {
		path, ok := paths[key]
		if !ok {
			t.Errorf("missing archive for %s", key)
			continue
		}
		if !strings.HasSuffix(path, filepath.FromSlash(suffix)) {
			t.Errorf("archive %s staged at %s, want suffix %s", key, path, suffix)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("archive %s not on disk: %v", key, err)
		}
	}
}

func TestBuildAll_FlagGatedFunctionsSkipped(t *testing.T) {
	projectDir := t.TempDir()
	for _, name := range []string{"device_ingest", "event_processor", "event_feedback", "hot_writer", "cold_mover", "archive_mover"} {
		writeFunction(t, projectDir, name, name, registry.ProviderAWS)
	}

	project := &config.Project{Path: projectDir, ProviderMap: allAWSMap()}
	b := New(registry.Default(), zerolog.Nop())

	paths, err := b.BuildAll(context.Background(), project, nil)
	if err != nil {
		t.Fatal(err)
	}
	for key := range paths {
		if key.Function == "event_feedback" || key.Function == "archive_mover" {
			t.Errorf("flag-gated function %s built with its flag off", key.Function)
		}
	}

	project.Optimization = config.OptimizationFlags{EnableEventFeedback: true, EnableArchiveTier: true}
	paths, err = b.BuildAll(context.Background(), project, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, fn := range []string{"event_feedback", "archive_mover"} {
		found := false
		for key := range paths {
			if key.Function == fn {
				found = true
			}
		}
		if !found {
			t.Errorf("function %s not built with its flag on", fn)
		}
	}
}

func TestBuildAll_AzureLayerBlueprint(t *testing.T) {
	projectDir := t.TempDir()
	m := allAWSMap()
	m.Layer2 = "azure"
	for _, name := range []string{"device_ingest", "hot_writer", "cold_mover"} {
		writeFunction(t, projectDir, name, name, registry.ProviderAWS)
	}
	writeFunction(t, projectDir, "event_processor", "event_processor", registry.ProviderAzure)
	writeFunction(t, projectDir, "event_feedback", "event_feedback", registry.ProviderAzure)

	project := &config.Project{
		Path:         projectDir,
		ProviderMap:  m,
		Optimization: config.OptimizationFlags{EnableEventFeedback: true},
	}
	b := New(registry.Default(), zerolog.Nop())

	paths, err := b.BuildAll(context.Background(), project, nil)
	if err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}

	key := ArchiveKey{Provider: registry.ProviderAzure, Layer: registry.LayerProcessing}
	path, ok := paths[key]
	if !ok {
		t.Fatalf("no blueprint archive for the processing layer: %v", paths)
	}
	if !strings.HasSuffix(path, filepath.FromSlash("azure/l2.zip")) {
		t.Errorf("blueprint archive staged at %s", path)
	}

	names := archiveNames(t, path)
	joined := strings.Join(names, " ")
	for _, want := range []string{"event_processor.py", "event_feedback.py", bundle.EntryFileAzure} {
		if !strings.Contains(joined, want) {
			t.Errorf("blueprint archive missing %s: %v", want, names)
		}
	}
}

func TestBuildAll_GlueHostedOnDestinationProvider(t *testing.T) {
	projectDir := t.TempDir()
	for _, name := range []string{"device_ingest", "event_processor", "hot_writer", "cold_mover"} {
		writeFunction(t, projectDir, name, name, registry.ProviderAWS)
	}

	reg := registry.Default()
	def, ok := reg.GlueFunction(
		registry.ProviderAWS, registry.ProviderAzure,
		registry.Boundary{From: registry.LayerHotStorage, To: registry.LayerTwinGraph},
	)
	if !ok {
		t.Fatal("glue function not in catalog")
	}
	writeFunction(t, projectDir, def.Dir, def.Name, registry.ProviderAzure)

	project := &config.Project{Path: projectDir, ProviderMap: allAWSMap()}
	b := New(reg, zerolog.Nop())

	paths, err := b.BuildAll(context.Background(), project, map[string]registry.FunctionDefinition{def.Name: def})
	if err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}

	key := ArchiveKey{Provider: registry.ProviderAzure, Layer: registry.LayerGlue}
	path, ok := paths[key]
	if !ok {
		t.Fatalf("glue archive not staged under the destination provider: %v", paths)
	}
	if !strings.Contains(strings.Join(archiveNames(t, path), " "), def.Name+".py") {
		t.Errorf("glue archive does not carry %s", def.Name)
	}
}

func TestBuildAll_BundleErrorAbortsBuild(t *testing.T) {
	projectDir := t.TempDir()
	for _, name := range []string{"device_ingest", "event_processor", "hot_writer", "cold_mover"} {
		writeFunction(t, projectDir, name, name, registry.ProviderAWS)
	}
	// Break one entry file: no handler.
	broken := filepath.Join(projectDir, "functions", "hot_writer", bundle.EntryFileAWS)
	if err := os.WriteFile(broken, []byte("def main(event):\n    return None\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	project := &config.Project{Path: projectDir, ProviderMap: allAWSMap()}
	b := New(registry.Default(), zerolog.Nop())

	paths, err := b.BuildAll(context.Background(), project, nil)
	if !bundle.IsBundle(err) {
		t.Fatalf("expected a bundle error, got %v", err)
	}
	if paths != nil {
		t.Error("partial result map returned on failure")
	}
}
