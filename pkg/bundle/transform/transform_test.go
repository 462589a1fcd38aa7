package transform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRewrite_Golden(t *testing.T) {
	input, err := os.ReadFile(filepath.Join("testdata", "device_ingest.py"))
	if err != nil {
		t.Fatal(err)
	}
	golden, err := os.ReadFile(filepath.Join("testdata", "device_ingest.golden.py"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := Rewrite(string(input))
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	if got != string(golden) {
		t.Errorf("rewrite output does not match golden file.\n--- got ---\n%s\n--- want ---\n%s", got, golden)
	}
}

func TestCleanupImports_CollectsGuardedImports(t *testing.T) {
	src := strings.Join([]string{
		"import os",
		"",
		"try:",
		"    from shared.env import read_required_env",
		"except ImportError:",
		"    import sys",
		"    sys.path.append(os.path.dirname(__file__))",
		"    from shared.env import read_required_env",
		"",
		"x = 1",
	}, "\n")

	cleaned, imports := CleanupImports(src)

	if strings.Contains(cleaned, "try:") || strings.Contains(cleaned, "sys.path") {
		t.Errorf("local-dev block not removed:\n%s", cleaned)
	}
	if len(imports) != 1 || imports[0] != "from shared.env import read_required_env" {
		t.Errorf("collected imports = %v", imports)
	}
}

func TestCleanupImports_LeavesUnrelatedTryBlocks(t *testing.T) {
	src := strings.Join([]string{
		"try:",
		"    value = risky()",
		"except ImportError:",
		"    value = None",
	}, "\n")

	cleaned, imports := CleanupImports(src)
	if cleaned != src {
		t.Errorf("unrelated try block was modified:\n%s", cleaned)
	}
	if len(imports) != 0 {
		t.Errorf("unexpected imports collected: %v", imports)
	}
}

func TestConvertToBlueprint(t *testing.T) {
	src := strings.Join([]string{
		"app = func.FunctionApp(http_auth_level=func.AuthLevel.ANONYMOUS)",
		"",
		`@app.route(route="x")`,
		"def handler(req):",
		"    return app_state",
	}, "\n")

	got := ConvertToBlueprint(src)

	if !strings.Contains(got, "bp = func.Blueprint()") {
		t.Error("app creation not converted to blueprint")
	}
	if !strings.Contains(got, "@bp.route") {
		t.Error("route decorator not converted")
	}
	if !strings.Contains(got, "return app_state") {
		t.Error("unrelated identifier app_state was rewritten")
	}
}

func TestLazyEnvGetters_SpecExample(t *testing.T) {
	src := strings.Join([]string{
		`API_KEY = read_required_env("SERVICE_KEY")`,
		"",
		"def call():",
		"    return client(API_KEY)",
	}, "\n")

	got, err := LazyEnvGetters(src)
	if err != nil {
		t.Fatal(err)
	}

	// No module-level (column 0) call to the env reader may remain.
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, "API_KEY") {
			t.Errorf("module-level env read survived: %q", line)
		}
	}
	if !strings.Contains(got, `"SERVICE_KEY"`) {
		t.Error("environment variable name literal was not preserved")
	}
	if !strings.Contains(got, "return client(_get_api_key())") {
		t.Errorf("use-site not rewritten to getter:\n%s", got)
	}
	if !strings.Contains(got, "def _get_api_key():") {
		t.Errorf("getter not generated:\n%s", got)
	}
}

func TestLazyEnvGetters_PreservesLiteralMatchingConstName(t *testing.T) {
	src := strings.Join([]string{
		`QUEUE = read_required_env("QUEUE")`,
		`print("QUEUE", QUEUE)`,
	}, "\n")

	got, err := LazyEnvGetters(src)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(got, `read_required_env("QUEUE")`) {
		t.Error("env name literal inside the getter was rewritten")
	}
	if !strings.Contains(got, `print("QUEUE", _get_queue())`) {
		t.Errorf("string literal or use-site handled incorrectly:\n%s", got)
	}
}

func TestReinsertImports_Deduplicates(t *testing.T) {
	src := strings.Join([]string{
		"import os",
		"from shared.env import read_required_env",
		"",
		"x = 1",
	}, "\n")

	got := ReinsertImports(src, []string{
		"from shared.env import read_required_env",
		"from shared.pipeline import load_pipeline_config",
	})

	if strings.Count(got, "from shared.env import read_required_env") != 1 {
		t.Errorf("import duplicated:\n%s", got)
	}
	if !strings.Contains(got, "from shared.pipeline import load_pipeline_config") {
		t.Errorf("missing import not inserted:\n%s", got)
	}

	lines := strings.Split(got, "\n")
	if lines[2] != "from shared.pipeline import load_pipeline_config" {
		t.Errorf("import not inserted after last top-level import: %v", lines)
	}
}

func TestReinsertImports_NoImportsInsertsAtTop(t *testing.T) {
	got := ReinsertImports("x = 1", []string{"import shared"})
	lines := strings.Split(got, "\n")
	if lines[0] != "import shared" {
		t.Errorf("import not inserted at top: %v", lines)
	}
}
