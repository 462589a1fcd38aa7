package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/twinforge/twinforge/pkg/config"
)

var validateTestFiles = map[string]string{
	config.FileSettings: `{
		"digitalTwinName": "plant-floor-twin",
		"retention": {"hotDays": 7, "coldDays": 90, "archiveDays": 365}
	}`,
	config.FileProviderMap: `{
		"layer_1": "aws",
		"layer_2": "aws",
		"layer_3_hot": "aws",
		"layer_3_cold": "aws",
		"layer_3_archive": "aws",
		"layer_4": "aws",
		"layer_5": "aws"
	}`,
	config.FileCredentials: `{
		"aws": {"accessKeyId": "AKIA", "secretAccessKey": "secret", "region": "eu-west-1"}
	}`,
	config.FileDevices: `[
		{"id": "press-01", "properties": [{"name": "temperature", "type": "double"}]}
	]`,
	config.FileEvents:       `[]`,
	config.FileHierarchy:    `{"entities": []}`,
	config.FileOptimization: `{"enableEventFeedback": false, "enableDashboard": false, "enableArchiveTier": false}`,
}

func writeValidateProject(t *testing.T, overrides map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for name, content := range validateTestFiles {
		if override, ok := overrides[name]; ok {
			content = override
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestValidateCommand_ValidProject(t *testing.T) {
	dir := writeValidateProject(t, nil)

	cmd := newValidateCommand()
	cmd.SetArgs([]string{dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate failed on a valid project: %v", err)
	}
}

func TestValidateCommand_PolicyRejection(t *testing.T) {
	// Hot retention longer than cold violates the tier-ordering rule.
	dir := writeValidateProject(t, map[string]string{
		config.FileSettings: `{
			"digitalTwinName": "plant-floor-twin",
			"retention": {"hotDays": 400, "coldDays": 90, "archiveDays": 365}
		}`,
	})

	cmd := newValidateCommand()
	cmd.SetArgs([]string{dir})
	if err := cmd.Execute(); err == nil {
		t.Fatal("validate accepted a policy-violating project")
	}
}
