package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/twinforge/twinforge/pkg/registry"
)

// VariableBag is the flat key/value set handed to the provisioning tool.
// Marshalling is deterministic: identical projects compile to
// byte-identical variable files.
type VariableBag struct {
	vars map[string]interface{}
}

// NewVariableBag returns an empty bag.
func NewVariableBag() *VariableBag {
	return &VariableBag{vars: make(map[string]interface{})}
}

// Set stores a variable.
func (b *VariableBag) Set(key string, value interface{}) {
	b.vars[key] = value
}

// Get returns a variable and whether it exists.
func (b *VariableBag) Get(key string) (interface{}, bool) {
	v, ok := b.vars[key]
	return v, ok
}

// Keys returns all keys in sorted order.
func (b *VariableBag) Keys() []string {
	keys := make([]string, 0, len(b.vars))
	for k := range b.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON renders the bag as a JSON object. encoding/json sorts map
// keys, which gives the byte-for-byte determinism the tool file needs.
func (b *VariableBag) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.vars)
}

// WriteFile writes the bag in the provisioning tool's JSON variable-file
// convention to path.
func (b *VariableBag) WriteFile(path string) error {
	data, err := json.MarshalIndent(b.vars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal variable bag: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write variable file %s: %w", path, err)
	}
	return nil
}

// BuildVariableBag derives the full variable set from a compiled project:
// core settings, the provider map, credential fields for active
// providers, the single pipeline-awareness payload, optimization flags,
// and the conditional layer-2 workflow definition path.
func (c *Compiler) BuildVariableBag(project *Project) (*VariableBag, error) {
	bag := NewVariableBag()

	bag.Set("digital_twin_name", project.Settings.DigitalTwinName)
	bag.Set("retention_hot_days", project.Settings.Retention.HotDays)
	bag.Set("retention_cold_days", project.Settings.Retention.ColdDays)
	bag.Set("retention_archive_days", project.Settings.Retention.ArchiveDays)

	m := project.ProviderMap
	bag.Set("provider_layer_1", m.Layer1)
	bag.Set("provider_layer_2", m.Layer2)
	bag.Set("provider_layer_3_hot", m.Layer3Hot)
	bag.Set("provider_layer_3_cold", m.Layer3Cold)
	bag.Set("provider_layer_3_archive", m.Layer3Archive)
	bag.Set("provider_layer_4", m.Layer4)
	bag.Set("provider_layer_5", m.Layer5)

	setCredentialVars(bag, project.Credentials)

	bag.Set("enable_event_feedback", project.Optimization.EnableEventFeedback)
	bag.Set("enable_dashboard", project.Optimization.EnableDashboard)
	bag.Set("enable_archive_tier", project.Optimization.EnableArchiveTier)

	payload, err := buildPipelinePayload(project)
	if err != nil {
		return nil, err
	}
	bag.Set("pipeline_config", payload)

	if err := setWorkflowPaths(bag, project); err != nil {
		return nil, err
	}

	return bag, nil
}

// WriteTfvars builds the variable bag and writes it to the fixed location
// inside the project directory consumed by the provisioning tool. It
// returns the bag so the caller can extend it (archive paths) and the
// path it was written to.
func (c *Compiler) WriteTfvars(project *Project) (*VariableBag, string, error) {
	bag, err := c.BuildVariableBag(project)
	if err != nil {
		return nil, "", err
	}

	path := filepath.Join(project.Path, TfvarsFileName)
	if err := bag.WriteFile(path); err != nil {
		return nil, "", err
	}

	c.logger.Info().Str("path", path).Int("variables", len(bag.vars)).Msg("Variable file written")
	return bag, path, nil
}

// setCredentialVars flattens the credential bundle. Inactive providers
// get explicit empty strings so the tool's variable declarations are
// always satisfied; this is deliberate emptiness, not a guessed default.
func setCredentialVars(bag *VariableBag, creds Credentials) {
	aws := creds.AWS
	if aws == nil {
		aws = &AWSCredentials{}
	}
	bag.Set("aws_access_key_id", aws.AccessKeyID)
	bag.Set("aws_secret_access_key", aws.SecretAccessKey)
	bag.Set("aws_region", aws.Region)

	azure := creds.Azure
	if azure == nil {
		azure = &AzureCredentials{}
	}
	bag.Set("azure_subscription_id", azure.SubscriptionID)
	bag.Set("azure_tenant_id", azure.TenantID)
	bag.Set("azure_client_id", azure.ClientID)
	bag.Set("azure_client_secret", azure.ClientSecret)
	bag.Set("azure_location", azure.Location)

	google := creds.Google
	if google == nil {
		google = &GoogleCredentials{}
	}
	bag.Set("google_project_id", google.ProjectID)
	bag.Set("google_region", google.Region)
	bag.Set("google_service_account_file", google.ServiceAccountFile)
}

// buildPipelinePayload renders the single JSON document injected into
// functions that need full pipeline awareness at runtime.
func buildPipelinePayload(project *Project) (string, error) {
	payload := struct {
		DigitalTwinName string           `json:"digitalTwinName"`
		Retention       RetentionWindows `json:"retention"`
		ProviderMap     ProviderMap      `json:"providerMap"`
		Devices         []DeviceSpec     `json:"devices"`
		Events          []EventSpec      `json:"events"`
	}{
		DigitalTwinName: project.Settings.DigitalTwinName,
		Retention:       project.Settings.Retention,
		ProviderMap:     project.ProviderMap,
		Devices:         project.Devices,
		Events:          project.Events,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pipeline payload: %w", err)
	}
	return string(data), nil
}

// setWorkflowPaths populates exactly one of the three layer-2 workflow
// definition path variables, selected by which provider owns layer_2.
// The other two are explicit empty strings. The selected file must exist.
func setWorkflowPaths(bag *VariableBag, project *Project) error {
	bag.Set("step_functions_definition_path", "")
	bag.Set("logic_app_definition_path", "")
	bag.Set("google_workflow_definition_path", "")

	p, ok := project.ProviderMap.Provider(registry.LayerProcessing)
	if !ok {
		return NewMissingKeyError(FileProviderMap, string(registry.LayerProcessing))
	}

	var key, rel string
	switch p {
	case registry.ProviderAWS:
		key, rel = "step_functions_definition_path", WorkflowAWS
	case registry.ProviderAzure:
		key, rel = "logic_app_definition_path", WorkflowAzure
	case registry.ProviderGoogle:
		key, rel = "google_workflow_definition_path", WorkflowGoogle
	}

	path := filepath.Join(project.Path, rel)
	if _, err := os.Stat(path); err != nil {
		return NewMissingFileError(rel, err)
	}

	bag.Set(key, path)
	return nil
}
