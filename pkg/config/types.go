package config

import (
	"encoding/json"

	"github.com/twinforge/twinforge/pkg/registry"
)

// Project file names, relative to the project directory.
const (
	FileSettings     = "settings.json"
	FileProviderMap  = "provider_map.json"
	FileCredentials  = "credentials.json"
	FileDevices      = "devices.json"
	FileEvents       = "events.json"
	FileHierarchy    = "hierarchy.json"
	FileOptimization = "optimization.json"
)

// Workflow definition files for layer 2, relative to the project
// directory. Exactly one of them is referenced per deployment, selected
// by which provider owns layer_2.
const (
	WorkflowAWS    = "workflows/step_functions.asl.json"
	WorkflowAzure  = "workflows/logic_app.workflow.json"
	WorkflowGoogle = "workflows/google_workflow.yaml"
)

// TfvarsFileName is the variable file consumed by the provisioning tool,
// written into the project directory.
const TfvarsFileName = "terraform.tfvars.json"

// Settings holds the core project settings from settings.json.
type Settings struct {
	// DigitalTwinName names the deployment; it prefixes every cloud
	// resource created for this project.
	DigitalTwinName string `json:"digitalTwinName" validate:"required,hostname_rfc1123"`

	// Retention configures the storage tier retention windows in days.
	Retention RetentionWindows `json:"retention" validate:"required"`
}

// RetentionWindows are the storage retention windows, in integer days.
type RetentionWindows struct {
	HotDays     int `json:"hotDays" validate:"required,gt=0"`
	ColdDays    int `json:"coldDays" validate:"required,gt=0"`
	ArchiveDays int `json:"archiveDays" validate:"required,gt=0"`
}

// ProviderMap assigns a provider to every pipeline layer slot. Slots for
// optional layers (see registry.Layer.Optional) may be empty; every other
// slot must carry a valid provider.
type ProviderMap struct {
	Layer1        string `json:"layer_1" validate:"required"`
	Layer2        string `json:"layer_2" validate:"required"`
	Layer3Hot     string `json:"layer_3_hot" validate:"required"`
	Layer3Cold    string `json:"layer_3_cold" validate:"required"`
	Layer3Archive string `json:"layer_3_archive" validate:"required"`
	Layer4        string `json:"layer_4"`
	Layer5        string `json:"layer_5"`
}

// Provider returns the provider assigned to the given layer slot. The
// second return is false when the slot is empty.
func (m ProviderMap) Provider(layer registry.Layer) (registry.Provider, bool) {
	var raw string
	switch layer {
	case registry.LayerAcquisition:
		raw = m.Layer1
	case registry.LayerProcessing:
		raw = m.Layer2
	case registry.LayerHotStorage:
		raw = m.Layer3Hot
	case registry.LayerColdStorage:
		raw = m.Layer3Cold
	case registry.LayerArchiveStorage:
		raw = m.Layer3Archive
	case registry.LayerTwinGraph:
		raw = m.Layer4
	case registry.LayerVisualization:
		raw = m.Layer5
	}
	p := registry.Provider(raw)
	return p, p.Valid()
}

// ActiveProviders returns the distinct providers that own at least one
// layer, in stable order.
func (m ProviderMap) ActiveProviders() []registry.Provider {
	seen := make(map[registry.Provider]bool)
	for _, layer := range registry.MappedLayers() {
		if p, ok := m.Provider(layer); ok {
			seen[p] = true
		}
	}
	out := make([]registry.Provider, 0, len(seen))
	for _, p := range registry.AllProviders() {
		if seen[p] {
			out = append(out, p)
		}
	}
	return out
}

// LayersFor returns the layers owned by provider p, in deployment order.
func (m ProviderMap) LayersFor(p registry.Provider) []registry.Layer {
	var layers []registry.Layer
	for _, layer := range registry.MappedLayers() {
		if got, ok := m.Provider(layer); ok && got == p {
			layers = append(layers, layer)
		}
	}
	return layers
}

// DeviceProperty is one typed time-series property of a device.
type DeviceProperty struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type" validate:"required,oneof=double integer string boolean"`
}

// DeviceConstProperty is one static attribute of a device.
type DeviceConstProperty struct {
	Name  string      `json:"name" validate:"required"`
	Value interface{} `json:"value"`
}

// DeviceSpec describes one IoT device of the twin.
type DeviceSpec struct {
	ID              string                `json:"id" validate:"required"`
	Properties      []DeviceProperty      `json:"properties,omitempty" validate:"dive"`
	ConstProperties []DeviceConstProperty `json:"constProperties,omitempty" validate:"dive"`
}

// EventFeedback routes an event action's result back to a device.
// If present, both fields are required.
type EventFeedback struct {
	IoTDeviceID string          `json:"iotDeviceId" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// EventAction is the action side of an event rule.
type EventAction struct {
	Type         string         `json:"type" validate:"required"`
	FunctionName string         `json:"functionName" validate:"required"`
	Feedback     *EventFeedback `json:"feedback,omitempty"`
}

// EventSpec is one condition/action event rule.
type EventSpec struct {
	// Condition is a boolean expression over device properties,
	// evaluated at runtime inside the processing layer. Its syntax is
	// checked at compile time.
	Condition string      `json:"condition" validate:"required"`
	Action    EventAction `json:"action" validate:"required"`
}

// HierarchyNode is one node of the entity/component forest used by the
// AWS-family hierarchy shape. Children nest recursively.
type HierarchyNode struct {
	Kind     string          `json:"kind" validate:"required,oneof=entity component"`
	Name     string          `json:"name" validate:"required"`
	Children []HierarchyNode `json:"children,omitempty" validate:"dive"`
}

// HierarchyGraph is the provider-specific entity hierarchy document.
// Exactly one family shape must be populated: Entities (ordered forest,
// AWS family) or Models/Twins/Relationships (Azure family). Which family
// is required follows the layer_4 provider.
type HierarchyGraph struct {
	Entities []HierarchyNode `json:"entities,omitempty" validate:"dive"`

	Models        []json.RawMessage `json:"models,omitempty"`
	Twins         []json.RawMessage `json:"twins,omitempty"`
	Relationships []json.RawMessage `json:"relationships,omitempty"`
}

// Empty reports whether neither family shape is populated.
func (h HierarchyGraph) Empty() bool {
	return len(h.Entities) == 0 && len(h.Models) == 0 && len(h.Twins) == 0 && len(h.Relationships) == 0
}

// AWSCredentials is the aws credential block.
type AWSCredentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	Region          string `json:"region"`
}

// AzureCredentials is the azure credential block.
type AzureCredentials struct {
	SubscriptionID string `json:"subscriptionId"`
	TenantID       string `json:"tenantId"`
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	Location       string `json:"location"`
}

// GoogleCredentials is the google credential block.
type GoogleCredentials struct {
	ProjectID          string `json:"projectId"`
	Region             string `json:"region"`
	ServiceAccountFile string `json:"serviceAccountFile"`
}

// Credentials is the credential bundle. A block may be absent entirely
// when its provider owns no layer, but a present block must be complete.
type Credentials struct {
	AWS    *AWSCredentials    `json:"aws,omitempty"`
	Azure  *AzureCredentials  `json:"azure,omitempty"`
	Google *GoogleCredentials `json:"google,omitempty"`
}

// OptimizationFlags toggle optional sub-components of the pipeline.
type OptimizationFlags struct {
	// EnableEventFeedback deploys the event_feedback function so event
	// actions can write back to devices.
	EnableEventFeedback bool `json:"enableEventFeedback"`

	// EnableDashboard deploys the dashboard_sync function and wires the
	// visualization datasources after apply.
	EnableDashboard bool `json:"enableDashboard"`

	// EnableArchiveTier provisions the archive storage tier mover.
	EnableArchiveTier bool `json:"enableArchiveTier"`
}

// Project is the compiled, immutable project configuration for one run.
type Project struct {
	// Path is the project directory the configuration was read from.
	Path string `json:"path"`

	Settings     Settings          `json:"settings"`
	ProviderMap  ProviderMap       `json:"providerMap"`
	Credentials  Credentials       `json:"-"`
	Devices      []DeviceSpec      `json:"devices"`
	Events       []EventSpec       `json:"events"`
	Hierarchy    HierarchyGraph    `json:"hierarchy"`
	Optimization OptimizationFlags `json:"optimization"`
}
