package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/twinforge/twinforge/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func validProject() *config.Project {
	return &config.Project{
		Settings: config.Settings{
			DigitalTwinName: "factory",
			Retention: config.RetentionWindows{
				HotDays:     7,
				ColdDays:    30,
				ArchiveDays: 365,
			},
		},
		ProviderMap: config.ProviderMap{
			Layer1:        "aws",
			Layer2:        "aws",
			Layer3Hot:     "aws",
			Layer3Cold:    "aws",
			Layer3Archive: "aws",
			Layer4:        "aws",
			Layer5:        "aws",
		},
		Devices: []config.DeviceSpec{
			{ID: "press-1"},
		},
		Optimization: config.OptimizationFlags{
			EnableDashboard: true,
		},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"twin-naming",
		"retention-ordering",
		"provider-slots",
		"optimization-consistency",
		"event-wiring",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateProject_NamingPolicy(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		twinName      string
		expectAllowed bool
	}{
		{
			name:          "valid twin name",
			twinName:      "factory-floor-2",
			expectAllowed: true,
		},
		{
			name:          "uppercase in name",
			twinName:      "Factory",
			expectAllowed: false,
		},
		{
			name:          "name with underscores",
			twinName:      "factory_floor",
			expectAllowed: false,
		},
		{
			name:          "name too short",
			twinName:      "ab",
			expectAllowed: false,
		},
		{
			name:          "leading hyphen",
			twinName:      "-factory",
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := validProject()
			project.Settings.DigitalTwinName = tt.twinName

			result, err := eng.EvaluateProject(context.Background(), project, "deploy")
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("allowed = %v, want %v (violations: %+v)",
					result.Allowed, tt.expectAllowed, result.Violations)
			}
		})
	}
}

func TestEvaluateProject_RetentionOrdering(t *testing.T) {
	eng := newTestEngine(t)

	project := validProject()
	project.Settings.Retention = config.RetentionWindows{
		HotDays:     90,
		ColdDays:    30,
		ArchiveDays: 365,
	}

	result, err := eng.EvaluateProject(context.Background(), project, "deploy")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("hot > cold retention was allowed")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "retention-ordering" && v.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("no retention-ordering violation in %+v", result.Violations)
	}
}

func TestEvaluateProject_ProviderSlots(t *testing.T) {
	eng := newTestEngine(t)

	t.Run("unknown provider blocks", func(t *testing.T) {
		project := validProject()
		project.ProviderMap.Layer1 = "ibm"

		result, err := eng.EvaluateProject(context.Background(), project, "deploy")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if result.Allowed {
			t.Error("unknown provider in layer_1 was allowed")
		}
	})

	t.Run("empty optional slots pass", func(t *testing.T) {
		project := validProject()
		project.ProviderMap.Layer4 = ""
		project.ProviderMap.Layer5 = ""
		project.Optimization.EnableDashboard = false

		result, err := eng.EvaluateProject(context.Background(), project, "deploy")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("empty optional slots blocked: %+v", result.Violations)
		}
	})

	t.Run("visualization without twin graph blocks", func(t *testing.T) {
		project := validProject()
		project.ProviderMap.Layer4 = ""
		project.ProviderMap.Layer5 = "aws"

		result, err := eng.EvaluateProject(context.Background(), project, "deploy")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if result.Allowed {
			t.Error("layer_5 without layer_4 was allowed")
		}
	})
}

func TestEvaluateProject_WarningsDoNotBlock(t *testing.T) {
	eng := newTestEngine(t)

	project := validProject()
	project.Optimization.EnableDashboard = false

	result, err := eng.EvaluateProject(context.Background(), project, "deploy")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("warning-severity violation blocked the run: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "optimization-consistency" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("no optimization-consistency warning in %+v", result.Violations)
	}
}

func TestEvaluateProject_EventWiring(t *testing.T) {
	eng := newTestEngine(t)

	feedbackEvent := config.EventSpec{
		Condition: "temperature > 90",
		Action: config.EventAction{
			Type:         "function",
			FunctionName: "cooling",
			Feedback: &config.EventFeedback{
				IoTDeviceID: "press-1",
				Payload:     []byte(`{"cool":true}`),
			},
		},
	}

	t.Run("feedback without flag blocks", func(t *testing.T) {
		project := validProject()
		project.Events = []config.EventSpec{feedbackEvent}
		project.Optimization.EnableEventFeedback = false

		result, err := eng.EvaluateProject(context.Background(), project, "deploy")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if result.Allowed {
			t.Error("feedback without enableEventFeedback was allowed")
		}
	})

	t.Run("feedback to unknown device blocks", func(t *testing.T) {
		project := validProject()
		ev := feedbackEvent
		ev.Action.Feedback = &config.EventFeedback{
			IoTDeviceID: "no-such-device",
			Payload:     []byte(`{}`),
		}
		project.Events = []config.EventSpec{ev}
		project.Optimization.EnableEventFeedback = true

		result, err := eng.EvaluateProject(context.Background(), project, "deploy")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if result.Allowed {
			t.Error("feedback to unknown device was allowed")
		}
	})

	t.Run("valid feedback passes", func(t *testing.T) {
		project := validProject()
		project.Events = []config.EventSpec{feedbackEvent}
		project.Optimization.EnableEventFeedback = true

		result, err := eng.EvaluateProject(context.Background(), project, "deploy")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("valid feedback blocked: %+v", result.Violations)
		}
	})
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	project := validProject()
	project.Settings.Retention.HotDays = 400

	if err := eng.DisablePolicy("retention-ordering"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	result, err := eng.EvaluateProject(context.Background(), project, "deploy")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still blocked: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("retention-ordering"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	result, err = eng.EvaluateProject(context.Background(), project, "deploy")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("re-enabled policy did not block")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("disabling unknown policy succeeded")
	}
}

func TestLoadPolicies_CustomRego(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	custom := `package custom.policies.fleet

import rego.v1

deny contains violation if {
	input.project
	count(input.project.devices) > 2

	violation := {
		"message": "device inventory exceeds the fleet limit",
		"severity": "error",
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "fleet.rego"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load custom policy: %v", err)
	}

	project := validProject()
	project.Devices = []config.DeviceSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	result, err := eng.EvaluateProject(context.Background(), project, "deploy")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("custom policy did not block oversized fleet")
	}

	if _, err := eng.GetPolicy("fleet"); err != nil {
		t.Errorf("custom policy not retrievable: %v", err)
	}
}

func TestGetPolicy(t *testing.T) {
	eng := newTestEngine(t)

	p, err := eng.GetPolicy("twin-naming")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if p.Name != "twin-naming" || !p.Enabled {
		t.Errorf("unexpected policy: %+v", p)
	}

	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("getting unknown policy succeeded")
	}
}
