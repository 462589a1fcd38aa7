package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "device-limit.rego")

	regoContent := `package twinforge.project

# Caps the device inventory per twin

deny contains violation if {
	count(input.project.devices) > 500
	violation := {"message": "device inventory exceeds the fleet limit", "severity": "error"}
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0o644); err != nil {
		t.Fatal(err)
	}

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "device-limit" {
		t.Errorf("name = %q, want device-limit", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Caps the device inventory per twin" {
		t.Errorf("description = %q", policy.Description)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromDirectory_RecursiveRegoOnly(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "retention")
	if err := os.Mkdir(subDir, 0o755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		filepath.Join(tmpDir, "naming.rego"):    "package p1\ndeny contains msg if { false; msg := \"\" }",
		filepath.Join(subDir, "tiers.rego"):     "package p2\ndeny contains msg if { false; msg := \"\" }",
		filepath.Join(tmpDir, "README.md"):      "# not a policy",
		filepath.Join(tmpDir, "settings.json"):  "{}",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d policies, want 2", len(loaded))
	}
}

func TestLoadFromPaths_MixedFileAndDirectory(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	dir1 := filepath.Join(tmpDir, "rules")
	if err := os.Mkdir(dir1, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir1, "one.rego"), []byte("package p1\ndeny contains msg if { false; msg := \"\" }"), 0o644); err != nil {
		t.Fatal(err)
	}
	file1 := filepath.Join(tmpDir, "two.rego")
	if err := os.WriteFile(file1, []byte("package p2\ndeny contains msg if { false; msg := \"\" }"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d policies, want 2", len(loaded))
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "policy.yaml")
	if err := os.WriteFile(policyFile, []byte("not a policy"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := loader.loadFromFile(policyFile); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := newTestLoader()

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# This is a project rule
package test`,
			expected: "This is a project rule",
		},
		{
			name: "multi line comments",
			content: `# This is a project rule
# that spans multiple lines
package test`,
			expected: "This is a project rule that spans multiple lines",
		},
		{
			name: "no comments",
			content: `package test
deny contains msg if { false; msg := "" }`,
			expected: "",
		},
		{
			name: "comments with empty lines",
			content: `# First line
#
# Second line
package test`,
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.expected {
				t.Errorf("description = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	loader := newTestLoader()
	loader.debounce = 20 * time.Millisecond

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "naming.rego")
	if err := os.WriteFile(policyFile, []byte("package p1\ndeny contains msg if { false; msg := \"\" }"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	done := make(chan error, 1)
	go func() {
		done <- loader.Watch(ctx, []string{tmpDir}, func(policies []Policy) error {
			reloaded <- policies
			return nil
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(policyFile, []byte("package p1\ndeny contains msg if { true; msg := \"changed\" }"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case policies := <-reloaded:
		if len(policies) != 1 {
			t.Errorf("reload delivered %d policies, want 1", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after policy file change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestReplacePolicies_SwapsFileSetKeepsBuiltins(t *testing.T) {
	engine, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatal(err)
	}
	builtins := len(engine.ListPolicies())

	first := []Policy{{
		Name:     "naming",
		Rego:     "package p1\nimport rego.v1\ndeny contains msg if { false; msg := \"\" }",
		Severity: SeverityWarning,
		Enabled:  true,
	}}
	if err := engine.ReplacePolicies(context.Background(), first); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if got := len(engine.ListPolicies()); got != builtins+1 {
		t.Errorf("policy count = %d, want %d", got, builtins+1)
	}

	second := []Policy{
		{Name: "tiers", Rego: "package p2\nimport rego.v1\ndeny contains msg if { false; msg := \"\" }", Severity: SeverityWarning, Enabled: true},
		{Name: "regions", Rego: "package p3\nimport rego.v1\ndeny contains msg if { false; msg := \"\" }", Severity: SeverityWarning, Enabled: true},
	}
	if err := engine.ReplacePolicies(context.Background(), second); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if got := len(engine.ListPolicies()); got != builtins+2 {
		t.Errorf("policy count after swap = %d, want %d", got, builtins+2)
	}
	if _, err := engine.GetPolicy("naming"); err == nil {
		t.Error("replaced policy still present")
	}
}
