package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/registry"
)

// Compiler reads and validates the project file set and produces the
// variable bag consumed by the provisioning tool.
type Compiler struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewCompiler creates a compiler bound to the given function registry.
func NewCompiler(reg *registry.Registry, logger zerolog.Logger) *Compiler {
	return &Compiler{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
		registry: reg,
		logger:   logger.With().Str("component", "config-compiler").Logger(),
	}
}

// Compile reads every required project file under projectPath and returns
// the compiled, immutable Project. The first missing file, missing key,
// or invalid value aborts compilation with a ConfigurationError naming
// it; nothing is defaulted.
func (c *Compiler) Compile(projectPath string) (*Project, error) {
	project := &Project{Path: projectPath}

	if err := c.readProjectFile(projectPath, FileSettings, &project.Settings); err != nil {
		return nil, err
	}
	if err := c.checkSettings(project.Settings); err != nil {
		return nil, err
	}

	if err := c.readProjectFile(projectPath, FileProviderMap, &project.ProviderMap); err != nil {
		return nil, err
	}
	if err := c.checkProviderMap(project.ProviderMap); err != nil {
		return nil, err
	}

	if err := c.readProjectFile(projectPath, FileCredentials, &project.Credentials); err != nil {
		return nil, err
	}
	if err := c.checkCredentials(project.Credentials, project.ProviderMap); err != nil {
		return nil, err
	}

	if err := c.readProjectFile(projectPath, FileDevices, &project.Devices); err != nil {
		return nil, err
	}
	if err := c.readProjectFile(projectPath, FileEvents, &project.Events); err != nil {
		return nil, err
	}
	if err := c.checkEvents(project.Events, project.Devices); err != nil {
		return nil, err
	}

	if err := c.readProjectFile(projectPath, FileHierarchy, &project.Hierarchy); err != nil {
		return nil, err
	}
	if err := c.checkHierarchy(project.Hierarchy, project.ProviderMap); err != nil {
		return nil, err
	}

	if err := c.readProjectFile(projectPath, FileOptimization, &project.Optimization); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("twin", project.Settings.DigitalTwinName).
		Int("devices", len(project.Devices)).
		Int("events", len(project.Events)).
		Msg("Project compiled")

	return project, nil
}

// readProjectFile reads, decodes, and schema-validates one project file.
func (c *Compiler) readProjectFile(projectPath, file string, out interface{}) error {
	raw, err := os.ReadFile(filepath.Join(projectPath, file))
	if err != nil {
		return NewMissingFileError(file, err)
	}

	if err := c.schemas.Validate(file, raw); err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ConfigurationError{File: file, Message: "malformed JSON", Err: err}
	}

	return nil
}

func (c *Compiler) checkSettings(s Settings) error {
	if s.DigitalTwinName == "" {
		return NewMissingKeyError(FileSettings, "digitalTwinName")
	}
	if s.Retention.HotDays == 0 {
		return NewMissingKeyError(FileSettings, "retention.hotDays")
	}
	if s.Retention.ColdDays == 0 {
		return NewMissingKeyError(FileSettings, "retention.coldDays")
	}
	if s.Retention.ArchiveDays == 0 {
		return NewMissingKeyError(FileSettings, "retention.archiveDays")
	}
	if err := c.validate.Struct(s); err != nil {
		return &ConfigurationError{File: FileSettings, Message: err.Error(), Err: err}
	}
	return nil
}

func (c *Compiler) checkProviderMap(m ProviderMap) error {
	slots := map[registry.Layer]string{
		registry.LayerAcquisition:    m.Layer1,
		registry.LayerProcessing:     m.Layer2,
		registry.LayerHotStorage:     m.Layer3Hot,
		registry.LayerColdStorage:    m.Layer3Cold,
		registry.LayerArchiveStorage: m.Layer3Archive,
		registry.LayerTwinGraph:      m.Layer4,
		registry.LayerVisualization:  m.Layer5,
	}

	for _, layer := range registry.MappedLayers() {
		raw := slots[layer]
		p, ok := registry.ParseProvider(raw)
		if !ok {
			return NewInvalidValueError(FileProviderMap, string(layer),
				fmt.Sprintf("unknown provider %q", raw))
		}
		if p == "" && !layer.Optional() {
			return NewMissingKeyError(FileProviderMap, string(layer))
		}
	}
	return nil
}

// checkCredentials verifies that every provider owning at least one layer
// has a complete credential block. Absent blocks for inactive providers
// are fine; a present-but-incomplete block is always an error.
func (c *Compiler) checkCredentials(creds Credentials, m ProviderMap) error {
	for _, p := range m.ActiveProviders() {
		switch p {
		case registry.ProviderAWS:
			if creds.AWS == nil {
				return NewMissingKeyError(FileCredentials, "aws")
			}
		case registry.ProviderAzure:
			if creds.Azure == nil {
				return NewMissingKeyError(FileCredentials, "azure")
			}
		case registry.ProviderGoogle:
			if creds.Google == nil {
				return NewMissingKeyError(FileCredentials, "google")
			}
		}
	}

	if creds.AWS != nil {
		for field, value := range map[string]string{
			"accessKeyId":     creds.AWS.AccessKeyID,
			"secretAccessKey": creds.AWS.SecretAccessKey,
			"region":          creds.AWS.Region,
		} {
			if value == "" {
				return NewCredentialError("aws", field)
			}
		}
	}
	if creds.Azure != nil {
		for field, value := range map[string]string{
			"subscriptionId": creds.Azure.SubscriptionID,
			"tenantId":       creds.Azure.TenantID,
			"clientId":       creds.Azure.ClientID,
			"clientSecret":   creds.Azure.ClientSecret,
			"location":       creds.Azure.Location,
		} {
			if value == "" {
				return NewCredentialError("azure", field)
			}
		}
	}
	if creds.Google != nil {
		for field, value := range map[string]string{
			"projectId":          creds.Google.ProjectID,
			"region":             creds.Google.Region,
			"serviceAccountFile": creds.Google.ServiceAccountFile,
		} {
			if value == "" {
				return NewCredentialError("google", field)
			}
		}
	}

	return nil
}

func (c *Compiler) checkEvents(events []EventSpec, devices []DeviceSpec) error {
	deviceIDs := make(map[string]bool, len(devices))
	for _, d := range devices {
		deviceIDs[d.ID] = true
	}

	for i, ev := range events {
		if ev.Action.Type == "" {
			return NewMissingKeyError(FileEvents, fmt.Sprintf("[%d].action.type", i))
		}
		if ev.Action.FunctionName == "" {
			return NewMissingKeyError(FileEvents, fmt.Sprintf("[%d].action.functionName", i))
		}
		if _, ok := c.registry.Function(ev.Action.FunctionName); !ok {
			return NewInvalidValueError(FileEvents, fmt.Sprintf("[%d].action.functionName", i),
				fmt.Sprintf("unknown function %q", ev.Action.FunctionName))
		}
		if fb := ev.Action.Feedback; fb != nil {
			if fb.IoTDeviceID == "" {
				return NewMissingKeyError(FileEvents, fmt.Sprintf("[%d].action.feedback.iotDeviceId", i))
			}
			if len(fb.Payload) == 0 {
				return NewMissingKeyError(FileEvents, fmt.Sprintf("[%d].action.feedback.payload", i))
			}
			if !deviceIDs[fb.IoTDeviceID] {
				return NewInvalidValueError(FileEvents, fmt.Sprintf("[%d].action.feedback.iotDeviceId", i),
					fmt.Sprintf("unknown device %q", fb.IoTDeviceID))
			}
		}
	}

	return checkEventConditions(events)
}

// checkHierarchy enforces the family shape that matches the layer_4
// provider: the entity/component forest for AWS, the
// models/twins/relationships document for Azure. When layer_4 is unused
// the hierarchy must be empty rather than silently ignored.
func (c *Compiler) checkHierarchy(h HierarchyGraph, m ProviderMap) error {
	forest := len(h.Entities) > 0
	document := len(h.Models) > 0 || len(h.Twins) > 0 || len(h.Relationships) > 0
	if forest && document {
		return NewInvalidValueError(FileHierarchy, "entities",
			"both hierarchy families populated; a project targets exactly one twin-graph provider")
	}

	p, ok := m.Provider(registry.LayerTwinGraph)
	if !ok {
		if !h.Empty() {
			return NewInvalidValueError(FileHierarchy, "entities",
				"hierarchy provided but layer_4 has no provider")
		}
		return nil
	}

	switch p {
	case registry.ProviderAWS:
		if document {
			return NewInvalidValueError(FileHierarchy, "models",
				"models/twins/relationships document requires an azure layer_4")
		}
		if !forest {
			return NewMissingKeyError(FileHierarchy, "entities")
		}
	case registry.ProviderAzure:
		if forest {
			return NewInvalidValueError(FileHierarchy, "entities",
				"entity forest requires an aws layer_4")
		}
		if len(h.Models) == 0 {
			return NewMissingKeyError(FileHierarchy, "models")
		}
		if len(h.Twins) == 0 {
			return NewMissingKeyError(FileHierarchy, "twins")
		}
	}

	return nil
}
