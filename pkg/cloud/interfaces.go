package cloud

import (
	"context"
	"encoding/json"

	"github.com/twinforge/twinforge/pkg/registry"
)

// API verbs. Every capability method reduces to one of these against a
// provider service.
const (
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbGet    = "get"
	VerbDelete = "delete"
	VerbList   = "list"
)

// Call is one provider API invocation handed to the transport.
type Call struct {
	// Service is the provider service the call targets.
	Service string `json:"service"`

	// Verb is the operation to perform.
	Verb string `json:"verb"`

	// Resource is the resource name the call operates on.
	Resource string `json:"resource,omitempty"`

	// Payload carries verb-specific parameters.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Result is the transport's reply to a Call.
type Result struct {
	// StatusCode is the HTTP-style status of the call.
	StatusCode int `json:"statusCode"`

	// Body is the raw response document, if any.
	Body json.RawMessage `json:"body,omitempty"`

	// Names holds list-verb results.
	Names []string `json:"names,omitempty"`
}

// Transport executes one call against a provider API. Adapters own the
// verb semantics and error classification; the transport owns the
// wire mechanics (SDK, REST, or a test fake).
type Transport func(ctx context.Context, call Call) (*Result, error)

// FunctionDeployment is the input to deploying one function archive.
type FunctionDeployment struct {
	// Name is the function name as deployed.
	Name string `json:"name"`

	// Layer is the pipeline layer the function belongs to.
	Layer registry.Layer `json:"layer"`

	// ArchivePath is the staged archive in the build cache.
	ArchivePath string `json:"archivePath"`

	// Environment is the function's environment variable set.
	Environment map[string]string `json:"environment,omitempty"`
}

// DeviceTwin is one device registration in the provider's IoT registry.
type DeviceTwin struct {
	// ID is the device identifier.
	ID string `json:"id"`

	// Properties are the device's initial reported properties.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// TwinEntity is one node or edge of the provider's twin graph.
type TwinEntity struct {
	// ID identifies the entity inside the graph.
	ID string `json:"id"`

	// Kind is the provider-family shape: entity/component for the AWS
	// family, model/twin/relationship for the Azure family.
	Kind string `json:"kind"`

	// Document is the provider-native entity document.
	Document json.RawMessage `json:"document,omitempty"`
}

// DashboardSpec describes one visualization dashboard to synchronize.
type DashboardSpec struct {
	// Name is the dashboard name.
	Name string `json:"name"`

	// Datasources are the storage resources the dashboard reads from.
	Datasources []string `json:"datasources,omitempty"`
}

// ResourceRef names one concrete cloud resource.
type ResourceRef struct {
	// Service is the provider service owning the resource.
	Service string `json:"service"`

	// Name is the resource name.
	Name string `json:"name"`
}

// FunctionService deploys and removes function code.
type FunctionService interface {
	// DeployFunction uploads the archive and creates or updates the
	// function.
	DeployFunction(ctx context.Context, d FunctionDeployment) error

	// DeleteFunction removes the function.
	DeleteFunction(ctx context.Context, name string) error
}

// DeviceRegistry manages device registrations in the provider's IoT
// service.
type DeviceRegistry interface {
	// CreateDevice registers one device.
	CreateDevice(ctx context.Context, d DeviceTwin) error

	// DeleteDevice removes one device registration.
	DeleteDevice(ctx context.Context, id string) error

	// ListDevices returns the IDs of registered devices whose ID starts
	// with prefix.
	ListDevices(ctx context.Context, prefix string) ([]string, error)
}

// TwinGraphService manages the provider's digital twin graph.
type TwinGraphService interface {
	// CreateEntity adds one node or edge to the graph.
	CreateEntity(ctx context.Context, e TwinEntity) error

	// DeleteEntity removes one node or edge.
	DeleteEntity(ctx context.Context, id string) error
}

// DashboardService manages visualization dashboards.
type DashboardService interface {
	// CreateDashboard creates or updates one dashboard.
	CreateDashboard(ctx context.Context, d DashboardSpec) error

	// DeleteDashboard removes one dashboard.
	DeleteDashboard(ctx context.Context, name string) error
}

// ResourceProbe answers existence-only questions. Probes never mutate
// anything; the pre-flight checker is built entirely on this interface.
type ResourceProbe interface {
	// Exists reports whether the referenced resource exists.
	Exists(ctx context.Context, ref ResourceRef) (bool, error)
}

// Sweeper enumerates and deletes leftover resources by naming prefix,
// the destroy path's last line of defense against orphans.
type Sweeper interface {
	// ListByPrefix returns the resources of a service whose name starts
	// with prefix.
	ListByPrefix(ctx context.Context, service, prefix string) ([]ResourceRef, error)

	// DeleteResource removes one resource.
	DeleteResource(ctx context.Context, ref ResourceRef) error
}

// Adapter is the full capability set of one provider. Capabilities a
// provider lacks (no managed twin graph, no dashboard service) are
// reported through the ok-return accessors rather than stub methods
// that fail at call time.
type Adapter interface {
	FunctionService
	DeviceRegistry
	ResourceProbe
	Sweeper

	// Provider returns the provider this adapter targets.
	Provider() registry.Provider

	// TwinGraph returns the twin graph capability, when supported.
	TwinGraph() (TwinGraphService, bool)

	// Dashboard returns the dashboard capability, when supported.
	Dashboard() (DashboardService, bool)

	// ServiceNames returns the provider service identifiers by role, for
	// callers that assemble ResourceRefs.
	ServiceNames() ServiceTable
}

// ServiceTable maps capability roles to one provider's service
// identifiers. Empty entries mark unsupported capabilities.
type ServiceTable struct {
	Functions string
	Devices   string
	TwinGraph string
	Dashboard string
}
