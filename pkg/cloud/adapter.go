package cloud

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/registry"
)

// adapter implements the capability set for one provider on top of an
// injected transport. All three providers share the verb semantics; only
// the service table differs.
type adapter struct {
	provider registry.Provider
	services ServiceTable
	call     Transport
	logger   zerolog.Logger
}

// NewAWSAdapter creates the AWS capability adapter.
func NewAWSAdapter(t Transport, logger zerolog.Logger) Adapter {
	return newAdapter(registry.ProviderAWS, ServiceTable{
		Functions: "lambda",
		Devices:   "iot_core",
		TwinGraph: "twinmaker",
		Dashboard: "managed_grafana",
	}, t, logger)
}

// NewAzureAdapter creates the Azure capability adapter. Azure has no
// dashboard role in the catalog.
func NewAzureAdapter(t Transport, logger zerolog.Logger) Adapter {
	return newAdapter(registry.ProviderAzure, ServiceTable{
		Functions: "function_app",
		Devices:   "iot_hub",
		TwinGraph: "digital_twins",
	}, t, logger)
}

// NewGoogleAdapter creates the Google capability adapter. Google has no
// managed twin graph; layer_4 never resolves to it.
func NewGoogleAdapter(t Transport, logger zerolog.Logger) Adapter {
	return newAdapter(registry.ProviderGoogle, ServiceTable{
		Functions: "cloud_functions",
		Devices:   "device_registry",
		Dashboard: "looker_studio",
	}, t, logger)
}

// Adapters builds the full provider-to-adapter map over one transport
// per provider.
func Adapters(transports map[registry.Provider]Transport, logger zerolog.Logger) map[registry.Provider]Adapter {
	out := make(map[registry.Provider]Adapter, len(transports))
	for p, t := range transports {
		switch p {
		case registry.ProviderAWS:
			out[p] = NewAWSAdapter(t, logger)
		case registry.ProviderAzure:
			out[p] = NewAzureAdapter(t, logger)
		case registry.ProviderGoogle:
			out[p] = NewGoogleAdapter(t, logger)
		}
	}
	return out
}

func newAdapter(p registry.Provider, services ServiceTable, t Transport, logger zerolog.Logger) *adapter {
	return &adapter{
		provider: p,
		services: services,
		call:     t,
		logger:   logger.With().Str("component", "cloud").Str("provider", string(p)).Logger(),
	}
}

// Provider implements Adapter.
func (a *adapter) Provider() registry.Provider { return a.provider }

// ServiceNames implements Adapter.
func (a *adapter) ServiceNames() ServiceTable { return a.services }

// TwinGraph implements Adapter.
func (a *adapter) TwinGraph() (TwinGraphService, bool) {
	if a.services.TwinGraph == "" {
		return nil, false
	}
	return a, true
}

// Dashboard implements Adapter.
func (a *adapter) Dashboard() (DashboardService, bool) {
	if a.services.Dashboard == "" {
		return nil, false
	}
	return a, true
}

// DeployFunction implements FunctionService. A create that collides with
// an existing function falls through to an update: redeploying the same
// pipeline must converge, not fail.
func (a *adapter) DeployFunction(ctx context.Context, d FunctionDeployment) error {
	payload := map[string]interface{}{
		"archive_path": d.ArchivePath,
		"layer":        string(d.Layer),
		"environment":  d.Environment,
	}

	err := WithRetry(ctx, func() error {
		return a.do(ctx, Call{Service: a.services.Functions, Verb: VerbCreate, Resource: d.Name, Payload: payload})
	})
	if IsAlreadyExists(err) {
		a.logger.Debug().Str("function", d.Name).Msg("Function exists, updating in place")
		err = WithRetry(ctx, func() error {
			return a.do(ctx, Call{Service: a.services.Functions, Verb: VerbUpdate, Resource: d.Name, Payload: payload})
		})
	}
	return err
}

// DeleteFunction implements FunctionService.
func (a *adapter) DeleteFunction(ctx context.Context, name string) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{Service: a.services.Functions, Verb: VerbDelete, Resource: name})
	})
}

// CreateDevice implements DeviceRegistry.
func (a *adapter) CreateDevice(ctx context.Context, d DeviceTwin) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{
			Service:  a.services.Devices,
			Verb:     VerbCreate,
			Resource: d.ID,
			Payload:  map[string]interface{}{"properties": d.Properties},
		})
	})
}

// DeleteDevice implements DeviceRegistry.
func (a *adapter) DeleteDevice(ctx context.Context, id string) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{Service: a.services.Devices, Verb: VerbDelete, Resource: id})
	})
}

// ListDevices implements DeviceRegistry.
func (a *adapter) ListDevices(ctx context.Context, prefix string) ([]string, error) {
	refs, err := a.ListByPrefix(ctx, a.services.Devices, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.Name)
	}
	return ids, nil
}

// CreateEntity implements TwinGraphService.
func (a *adapter) CreateEntity(ctx context.Context, e TwinEntity) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{
			Service:  a.services.TwinGraph,
			Verb:     VerbCreate,
			Resource: e.ID,
			Payload:  map[string]interface{}{"kind": e.Kind, "document": e.Document},
		})
	})
}

// DeleteEntity implements TwinGraphService.
func (a *adapter) DeleteEntity(ctx context.Context, id string) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{Service: a.services.TwinGraph, Verb: VerbDelete, Resource: id})
	})
}

// CreateDashboard implements DashboardService.
func (a *adapter) CreateDashboard(ctx context.Context, d DashboardSpec) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{
			Service:  a.services.Dashboard,
			Verb:     VerbCreate,
			Resource: d.Name,
			Payload:  map[string]interface{}{"datasources": d.Datasources},
		})
	})
}

// DeleteDashboard implements DashboardService.
func (a *adapter) DeleteDashboard(ctx context.Context, name string) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{Service: a.services.Dashboard, Verb: VerbDelete, Resource: name})
	})
}

// Exists implements ResourceProbe.
func (a *adapter) Exists(ctx context.Context, ref ResourceRef) (bool, error) {
	var exists bool
	err := WithRetry(ctx, func() error {
		err := a.do(ctx, Call{Service: ref.Service, Verb: VerbGet, Resource: ref.Name})
		if IsNotFound(err) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListByPrefix implements Sweeper.
func (a *adapter) ListByPrefix(ctx context.Context, service, prefix string) ([]ResourceRef, error) {
	var refs []ResourceRef
	err := WithRetry(ctx, func() error {
		res, err := a.exec(ctx, Call{
			Service: service,
			Verb:    VerbList,
			Payload: map[string]interface{}{"prefix": prefix},
		})
		if err != nil {
			return err
		}
		refs = refs[:0]
		for _, name := range res.Names {
			// Transports that ignore the prefix hint still get filtered
			// results.
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			refs = append(refs, ResourceRef{Service: service, Name: name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// DeleteResource implements Sweeper.
func (a *adapter) DeleteResource(ctx context.Context, ref ResourceRef) error {
	return WithRetry(ctx, func() error {
		return a.do(ctx, Call{Service: ref.Service, Verb: VerbDelete, Resource: ref.Name})
	})
}

// do executes a call and discards the response body.
func (a *adapter) do(ctx context.Context, call Call) error {
	_, err := a.exec(ctx, call)
	return err
}

// exec executes a call through the transport and classifies failures.
func (a *adapter) exec(ctx context.Context, call Call) (*Result, error) {
	res, err := a.call(ctx, call)
	if err != nil {
		// Transport-level failures (connection reset, DNS) are worth a
		// retry.
		return nil, NewTransientError(a.provider, "transport failure", err).
			WithOperation(call.Verb).WithResource(call.Resource)
	}
	if apiErr := a.classify(call, res.StatusCode); apiErr != nil {
		return nil, apiErr
	}
	return res, nil
}

// classify maps an HTTP-style status code to an APIError class.
func (a *adapter) classify(call Call, status int) *APIError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return NewNotFoundError(a.provider, call.Service, call.Resource).WithOperation(call.Verb)
	case status == http.StatusConflict:
		return NewAlreadyExistsError(a.provider, call.Service, call.Resource).WithOperation(call.Verb)
	case status == http.StatusTooManyRequests:
		return NewThrottledError(a.provider, "rate limited", nil).
			WithOperation(call.Verb).WithResource(call.Resource)
	case status >= 500:
		return NewTransientError(a.provider, fmt.Sprintf("provider returned status %d", status), nil).
			WithOperation(call.Verb).WithResource(call.Resource)
	default:
		return NewFatalError(a.provider, fmt.Sprintf("provider returned status %d", status), nil).
			WithOperation(call.Verb).WithResource(call.Resource)
	}
}
