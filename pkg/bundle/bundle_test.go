package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func archiveEntries(t *testing.T, archive []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatal(err)
	}
	entries := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			t.Fatal(err)
		}
		rc.Close()
		entries[f.Name] = buf.String()
	}
	return entries
}

const awsEntry = `import json

from pipeline import load_pipeline_config


def lambda_handler(event, context):
    return {"statusCode": 202, "body": json.dumps(load_pipeline_config())}
`

func TestAWSBundler_FlattensSharedToRoot(t *testing.T) {
	fnDir := t.TempDir()
	sharedDir := t.TempDir()
	writeFile(t, fnDir, EntryFileAWS, awsEntry)
	writeFile(t, fnDir, "__pycache__/lambda_function.cpython-311.pyc", "bytecode")
	writeFile(t, sharedDir, "pipeline.py", "def load_pipeline_config():\n    return {}\n")

	b, err := NewAWSBundler(zerolog.Nop()).Bundle(context.Background(), Request{
		Functions: []Function{{Name: "hot_writer", Dir: fnDir}},
		SharedDir: sharedDir,
	})
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}

	entries := archiveEntries(t, b.Archive)
	if _, ok := entries[EntryFileAWS]; !ok {
		t.Error("entry file not at archive root")
	}
	if _, ok := entries["pipeline.py"]; !ok {
		t.Error("shared module not flattened to archive root")
	}
	for name := range entries {
		if strings.Contains(name, "__pycache__") || strings.HasSuffix(name, ".pyc") {
			t.Errorf("bytecode cache leaked into archive: %s", name)
		}
	}
	if len(b.Functions) != 1 || b.Functions[0] != "hot_writer" {
		t.Errorf("bundle functions = %v", b.Functions)
	}
}

func TestAWSBundler_MissingHandlerFailsBeforePackaging(t *testing.T) {
	fnDir := t.TempDir()
	writeFile(t, fnDir, EntryFileAWS, "def main(event):\n    return None\n")

	b, err := NewAWSBundler(zerolog.Nop()).Bundle(context.Background(), Request{
		Functions: []Function{{Name: "hot_writer", Dir: fnDir}},
	})
	var be *BundleError
	if !errors.As(err, &be) {
		t.Fatalf("expected BundleError, got %v", err)
	}
	if b != nil {
		t.Error("partial archive returned on error")
	}
	if !strings.Contains(be.Message, AWSHandlerName) {
		t.Errorf("error does not name the missing handler: %v", be)
	}
}

func TestGCPBundler_SynthesizesManifestAndReservedSubdir(t *testing.T) {
	fnDir := t.TempDir()
	sharedDir := t.TempDir()
	writeFile(t, fnDir, EntryFileGCP, "def entrypoint(request):\n    return \"ok\"\n")
	writeFile(t, sharedDir, "env.py", "def read_required_env(name):\n    ...\n")

	b, err := NewGCPBundler(zerolog.Nop()).Bundle(context.Background(), Request{
		Functions: []Function{{Name: "cold_mover", Dir: fnDir}},
		SharedDir: sharedDir,
	})
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}

	entries := archiveEntries(t, b.Archive)
	if got := entries["requirements.txt"]; !strings.Contains(got, "functions-framework") {
		t.Errorf("synthesized manifest missing runtime adapter: %q", got)
	}
	if _, ok := entries["shared/env.py"]; !ok {
		t.Error("shared module not under reserved subdirectory")
	}
}

func TestGCPBundler_KeepsExistingManifest(t *testing.T) {
	fnDir := t.TempDir()
	writeFile(t, fnDir, EntryFileGCP, "def entrypoint(request):\n    return \"ok\"\n")
	writeFile(t, fnDir, "requirements.txt", "functions-framework==3.*\nrequests==2.32.0\n")

	b, err := NewGCPBundler(zerolog.Nop()).Bundle(context.Background(), Request{
		Functions: []Function{{Name: "cold_mover", Dir: fnDir}},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries := archiveEntries(t, b.Archive)
	if !strings.Contains(entries["requirements.txt"], "requests==2.32.0") {
		t.Error("existing manifest was replaced")
	}
}

func TestGCPBundler_MergesProjectOverride(t *testing.T) {
	fnDir := t.TempDir()
	overridesDir := t.TempDir()
	writeFile(t, fnDir, EntryFileGCP, "def entrypoint(request):\n    return \"ok\"\n")
	writeFile(t, fnDir, "wrapper.py", "# generic wrapper\n")
	writeFile(t, overridesDir, "wrapper.py", "# user business logic\n")
	writeFile(t, overridesDir, "unrelated.py", "# targets another function\n")

	b, err := NewGCPBundler(zerolog.Nop()).Bundle(context.Background(), Request{
		Functions:    []Function{{Name: "cold_mover", Dir: fnDir}},
		OverridesDir: overridesDir,
	})
	if err != nil {
		t.Fatal(err)
	}

	entries := archiveEntries(t, b.Archive)
	if entries["wrapper.py"] != "# user business logic\n" {
		t.Errorf("override not merged: %q", entries["wrapper.py"])
	}
	if _, ok := entries["unrelated.py"]; ok {
		t.Error("override with no matching module was added to the archive")
	}
}

const azureEntryTemplate = `import azure.functions as func

try:
    from shared.env import read_required_env
except ImportError:
    import sys
    sys.path.append("..")
    from shared.env import read_required_env

app = func.FunctionApp()


@app.route(route="NAME")
def NAME(req: func.HttpRequest) -> func.HttpResponse:
    return func.HttpResponse("ok")
`

func azureFunctionDir(t *testing.T, name string) string {
	dir := t.TempDir()
	writeFile(t, dir, EntryFileAzure, strings.ReplaceAll(azureEntryTemplate, "NAME", name))
	return dir
}

func TestAzureBundler_BuildsBlueprintArchive(t *testing.T) {
	sharedDir := t.TempDir()
	writeFile(t, sharedDir, "env.py", "def read_required_env(name):\n    ...\n")

	req := Request{
		Functions: []Function{
			{Name: "device_ingest", Dir: azureFunctionDir(t, "device_ingest")},
			{Name: "event_processor", Dir: azureFunctionDir(t, "event_processor")},
		},
		SharedDir: sharedDir,
	}

	b, err := NewAzureBundler(zerolog.Nop()).Bundle(context.Background(), req)
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}

	entries := archiveEntries(t, b.Archive)

	umbrella, ok := entries[EntryFileAzure]
	if !ok {
		t.Fatal("umbrella entry point missing")
	}
	for _, want := range []string{
		"from device_ingest import bp as device_ingest_bp",
		"from event_processor import bp as event_processor_bp",
		"app.register_functions(device_ingest_bp)",
		"app.register_functions(event_processor_bp)",
	} {
		if !strings.Contains(umbrella, want) {
			t.Errorf("umbrella entry missing %q:\n%s", want, umbrella)
		}
	}

	sub := entries["device_ingest.py"]
	if !strings.Contains(sub, "bp = func.Blueprint()") {
		t.Errorf("sub-app module not converted to blueprint form:\n%s", sub)
	}
	if strings.Contains(sub, "sys.path") {
		t.Errorf("local-dev path block survived the rewrite:\n%s", sub)
	}
	if _, ok := entries["shared/env.py"]; !ok {
		t.Error("shared modules missing from blueprint archive")
	}
}

func TestAzureBundler_DuplicateNameFailsWithoutArchive(t *testing.T) {
	req := Request{
		Functions: []Function{
			{Name: "ingest", Dir: azureFunctionDir(t, "ingest")},
			{Name: "ingest", Dir: azureFunctionDir(t, "ingest")},
		},
	}

	bundler := NewAzureBundler(zerolog.Nop())

	// Retrying the same bad input must fail identically, never flakily
	// succeed.
	for i := 0; i < 2; i++ {
		b, err := bundler.Bundle(context.Background(), req)
		var be *BundleError
		if !errors.As(err, &be) {
			t.Fatalf("attempt %d: expected BundleError, got %v", i, err)
		}
		if b != nil {
			t.Fatalf("attempt %d: partial archive returned", i)
		}
		if !strings.Contains(be.Message, `"ingest"`) {
			t.Errorf("attempt %d: error does not name the colliding function: %v", i, be)
		}
	}
}

func TestAzureBundler_DeterministicArchive(t *testing.T) {
	req := Request{
		Functions: []Function{{Name: "device_ingest", Dir: azureFunctionDir(t, "device_ingest")}},
	}
	bundler := NewAzureBundler(zerolog.Nop())

	first, err := bundler.Bundle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := bundler.Bundle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Archive, second.Archive) {
		t.Error("identical inputs produced different archive bytes")
	}
}
