package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twinforge/twinforge/pkg/boundary"
	"github.com/twinforge/twinforge/pkg/builder"
	"github.com/twinforge/twinforge/pkg/cloud"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/policy"
	"github.com/twinforge/twinforge/pkg/preflight"
	"github.com/twinforge/twinforge/pkg/registry"
	"github.com/twinforge/twinforge/pkg/stores"
	"github.com/twinforge/twinforge/pkg/telemetry"
	"github.com/twinforge/twinforge/pkg/terraform"
)

// deviceRegistrationWorkers bounds parallel device registration within
// one layer. Each device's identity creation is independent.
const deviceRegistrationWorkers = 4

// Orchestrator sequences deployment and destruction across pipeline
// layers. Provider work goes through the adapter map; the orchestrator
// itself never branches on provider identity.
type Orchestrator struct {
	registry *registry.Registry
	compiler *config.Compiler
	resolver *boundary.Resolver
	builder  *builder.Builder
	policies *policy.Engine
	adapters map[registry.Provider]cloud.Adapter
	store    stores.Store
	tel      *telemetry.Telemetry
	logger   zerolog.Logger

	newRunner func(workDir string) *terraform.Runner
}

// New creates an orchestrator wired to the given adapters and state
// store.
func New(
	reg *registry.Registry,
	adapters map[registry.Provider]cloud.Adapter,
	store stores.Store,
	tel *telemetry.Telemetry,
) (*Orchestrator, error) {
	logger := tel.Logger.NewComponentLogger("orchestrator").Zlog()

	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	return &Orchestrator{
		registry: reg,
		compiler: config.NewCompiler(reg, logger),
		resolver: boundary.NewResolver(reg, logger),
		builder:  builder.New(reg, logger),
		policies: policies,
		adapters: adapters,
		store:    store,
		tel:      tel,
		logger:   logger,
		newRunner: func(workDir string) *terraform.Runner {
			return terraform.NewRunner(workDir, logger)
		},
	}, nil
}

// WithRunnerFactory overrides how provisioning-tool runners are built.
func (o *Orchestrator) WithRunnerFactory(fn func(workDir string) *terraform.Runner) *Orchestrator {
	o.newRunner = fn
	return o
}

// Policies exposes the policy engine so callers can load custom
// policies before a run.
func (o *Orchestrator) Policies() *policy.Engine {
	return o.policies
}

// Deploy provisions the whole pipeline for the project at projectPath,
// in lifecycle order: variables, infrastructure, function code, then the
// dynamic post-provisioning operations that need apply-time values.
func (o *Orchestrator) Deploy(ctx context.Context, projectPath string) (dc *DeploymentContext, err error) {
	project, err := o.compiler.Compile(projectPath)
	if err != nil {
		return nil, err
	}

	if err := o.checkPolicies(ctx, project, "deploy"); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	twin := project.Settings.DigitalTwinName
	logger := o.logger.With().Str("run_id", runID).Str("deployment", twin).Logger()
	dc = newDeploymentContext(runID, project, logger)

	if err := o.recordRun(ctx, dc, stores.RunOperationDeploy); err != nil {
		return nil, err
	}

	spanCtx, span := o.tel.Tracer.StartDeploySpan(ctx, runID, twin)
	ctx = spanCtx
	timer := telemetry.NewTimer()
	o.tel.Metrics.RecordDeploymentStarted(twin)

	defer dc.runFinalizers(ctx)
	defer func() {
		status := stores.RunStatusSucceeded
		label := "succeeded"
		var errMsg *string
		if err != nil {
			status, label = stores.RunStatusFailed, "failed"
			msg := err.Error()
			errMsg = &msg
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		o.tel.Metrics.RecordDeploymentCompleted(label, timer.Duration())
		o.finishRun(ctx, dc, status, errMsg)
	}()

	logger.Info().Msg("Deployment started")

	if err = o.prepareArtifacts(ctx, dc); err != nil {
		return dc, err
	}
	if err = o.applyInfrastructure(ctx, dc); err != nil {
		return dc, err
	}
	if err = o.deployCode(ctx, dc); err != nil {
		return dc, err
	}
	if err = o.postProvision(ctx, dc); err != nil {
		return dc, err
	}

	logger.Info().Msg("Deployment completed")
	return dc, nil
}

// Destroy tears the pipeline down in reverse deployment order. Missing
// resources count as already clean; individual step errors are logged
// and do not stop the remaining cleanup. The naming-prefix sweep runs
// last, as a finalizer, so it executes even when a step raised.
func (o *Orchestrator) Destroy(ctx context.Context, projectPath string) (err error) {
	project, err := o.compiler.Compile(projectPath)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	twin := project.Settings.DigitalTwinName
	logger := o.logger.With().Str("run_id", runID).Str("deployment", twin).Logger()
	dc := newDeploymentContext(runID, project, logger)

	if err := o.recordRun(ctx, dc, stores.RunOperationDestroy); err != nil {
		return err
	}

	spanCtx, span := o.tel.Tracer.StartSpan(ctx, "deployment.destroy",
		telemetry.AttrRunID.String(runID),
		telemetry.AttrDeployment.String(twin),
	)
	ctx = spanCtx

	defer dc.runFinalizers(ctx)
	defer func() {
		status := stores.RunStatusSucceeded
		var errMsg *string
		if err != nil {
			status = stores.RunStatusFailed
			msg := err.Error()
			errMsg = &msg
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		o.finishRun(ctx, dc, status, errMsg)
	}()

	// Registered first so the LIFO stack runs it after every other
	// finalizer: the sweep is the last line of defense.
	dc.Defer("sweep", func(ctx context.Context) error {
		o.sweep(ctx, dc)
		return nil
	})

	logger.Info().Msg("Destroy started")

	if prepErr := o.prepareDestroyVariables(ctx, dc); prepErr != nil {
		logger.Warn().Err(prepErr).Msg("No variable file available, provisioning tool destroy will be skipped")
	}

	o.teardownLayers(ctx, dc)
	o.teardownGlue(ctx, dc)
	o.drainLedger(ctx, dc)
	o.destroyInfrastructure(ctx, dc)

	logger.Info().Msg("Destroy completed")
	return nil
}

// checkPolicies evaluates the policy gate for a compiled project.
func (o *Orchestrator) checkPolicies(ctx context.Context, project *config.Project, operation string) error {
	result, err := o.policies.EvaluateProject(ctx, project, operation)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	for _, v := range result.Violations {
		o.logger.Warn().
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}
	if !result.Allowed {
		return &PolicyRejectionError{Violations: blockingViolations(result)}
	}
	return nil
}

// prepareArtifacts resolves glue, builds every archive, and writes the
// variable file including the archive paths.
func (o *Orchestrator) prepareArtifacts(ctx context.Context, dc *DeploymentContext) error {
	glue, err := o.resolver.RequiredGlueFunctions(dc.Project.ProviderMap)
	if err != nil {
		return err
	}
	dc.Glue = glue

	archives, err := o.builder.BuildAll(ctx, dc.Project, glue)
	if err != nil {
		return err
	}
	dc.Archives = archives
	for key, path := range archives {
		if info, statErr := os.Stat(path); statErr == nil {
			o.tel.Metrics.RecordArchiveSize(string(key.Provider), int(info.Size()))
		}
	}

	bag, varFile, err := o.compiler.WriteTfvars(dc.Project)
	if err != nil {
		return err
	}
	for key, path := range archives {
		bag.Set(archiveVarName(key), path)
	}
	if err := bag.WriteFile(varFile); err != nil {
		return err
	}
	dc.VarFile = varFile

	dc.advance(StateTfvarsGenerated)
	o.setAllLayerPhases(ctx, dc, stores.LayerPhaseTfvarsGenerated)
	return nil
}

// applyInfrastructure runs the provisioning tool and captures its
// outputs.
func (o *Orchestrator) applyInfrastructure(ctx context.Context, dc *DeploymentContext) error {
	runner := o.newRunner(dc.Project.Path)

	if err := runner.Init(ctx); err != nil {
		return err
	}
	if err := runner.Apply(ctx, dc.VarFile); err != nil {
		return err
	}

	outputs, err := runner.Output(ctx)
	if err != nil {
		return err
	}
	dc.Outputs = outputs

	dc.advance(StateToolApplied)
	o.setAllLayerPhases(ctx, dc, stores.LayerPhaseToolApplied)
	return nil
}

// deployCode pushes function archives to the freshly applied
// infrastructure: glue functions first (boundary gates check for them),
// then each layer in deployment order behind its pre-flight gate.
func (o *Orchestrator) deployCode(ctx context.Context, dc *DeploymentContext) error {
	if err := o.deployGlueArchives(ctx, dc); err != nil {
		return err
	}

	probes := make(map[registry.Provider]cloud.ResourceProbe, len(o.adapters))
	for p, a := range o.adapters {
		probes[p] = a
	}
	checker := preflight.NewChecker(o.registry, probes, dc.logger)

	twin := dc.Project.Settings.DigitalTwinName
	for _, layer := range registry.MappedLayers() {
		p, ok := dc.Project.ProviderMap.Provider(layer)
		if !ok {
			continue
		}

		if err := checker.CheckLayer(ctx, dc.Project.ProviderMap, layer, twin); err != nil {
			o.tel.Metrics.RecordPreflightBlock(layer.Slug())
			o.setLayerPhase(ctx, dc, layer, stores.LayerPhaseFailed, err)
			return err
		}

		layerCtx, span := o.tel.Tracer.StartLayerSpan(ctx, "deploy", string(layer), string(p))
		timer := telemetry.NewTimer()
		err := o.deployLayerArchives(layerCtx, dc, layer, p)
		if err != nil {
			telemetry.RecordError(span, err)
			span.End()
			o.setLayerPhase(ctx, dc, layer, stores.LayerPhaseFailed, err)
			return err
		}
		telemetry.RecordSuccess(span)
		span.End()
		o.tel.Metrics.RecordLayerDeploy(layer.Slug(), string(p), timer.Duration())
		o.setLayerPhase(ctx, dc, layer, stores.LayerPhaseCodeDeployed, nil)
	}

	dc.advance(StateCodeDeployed)
	return nil
}

// deployGlueArchives pushes every glue archive to its destination
// provider.
func (o *Orchestrator) deployGlueArchives(ctx context.Context, dc *DeploymentContext) error {
	for _, key := range sortedArchiveKeys(dc.Archives) {
		if key.Layer != registry.LayerGlue {
			continue
		}
		if err := o.deployArchive(ctx, dc, key); err != nil {
			return err
		}
	}
	return nil
}

// deployLayerArchives pushes the archives of one layer.
func (o *Orchestrator) deployLayerArchives(ctx context.Context, dc *DeploymentContext, layer registry.Layer, p registry.Provider) error {
	for _, key := range sortedArchiveKeys(dc.Archives) {
		if key.Layer != layer || key.Provider != p {
			continue
		}
		if err := o.deployArchive(ctx, dc, key); err != nil {
			return err
		}
	}
	return nil
}

// deployArchive deploys one archive through the owning provider's
// adapter and records the created function in the resource ledger.
func (o *Orchestrator) deployArchive(ctx context.Context, dc *DeploymentContext, key builder.ArchiveKey) error {
	adapter, ok := o.adapters[key.Provider]
	if !ok {
		return fmt.Errorf("no adapter for provider %s", key.Provider)
	}

	name := deployedName(dc.Project.Settings.DigitalTwinName, key)
	o.tel.Metrics.RecordProviderCall(string(key.Provider), cloud.VerbCreate)
	err := adapter.DeployFunction(ctx, cloud.FunctionDeployment{
		Name:        name,
		Layer:       key.Layer,
		ArchivePath: dc.Archives[key],
		Environment: map[string]string{"TWIN_NAME": dc.Project.Settings.DigitalTwinName},
	})
	if err != nil {
		o.recordProviderError(key.Provider, err)
		return err
	}

	o.recordResource(ctx, dc, key.Provider, adapter.ServiceNames().Functions, name, key.Layer)
	return nil
}

// postProvision runs the SDK-driven operations that depend on
// apply-time values: device registration, twin graph upload, and
// dashboard datasource wiring.
func (o *Orchestrator) postProvision(ctx context.Context, dc *DeploymentContext) error {
	if err := o.registerDevices(ctx, dc); err != nil {
		return err
	}
	if err := o.uploadHierarchy(ctx, dc); err != nil {
		return err
	}
	if err := o.syncDashboard(ctx, dc); err != nil {
		return err
	}

	dc.advance(StatePostProvisioningDone)
	o.setAllLayerPhases(ctx, dc, stores.LayerPhasePostProvisioningDone)
	return nil
}

// registerDevices registers every configured device with the
// acquisition layer's IoT registry. Registrations are independent, so
// they run on a small worker pool.
func (o *Orchestrator) registerDevices(ctx context.Context, dc *DeploymentContext) error {
	devices := dc.Project.Devices
	if len(devices) == 0 {
		return nil
	}

	p, ok := dc.Project.ProviderMap.Provider(registry.LayerAcquisition)
	if !ok {
		return nil
	}
	adapter, ok := o.adapters[p]
	if !ok {
		return fmt.Errorf("no adapter for provider %s", p)
	}

	twin := dc.Project.Settings.DigitalTwinName
	devicesService := adapter.ServiceNames().Devices

	workerCount := deviceRegistrationWorkers
	if len(devices) < workerCount {
		workerCount = len(devices)
	}

	workQueue := make(chan config.DeviceSpec, len(devices))
	for _, d := range devices {
		workQueue <- d
	}
	close(workQueue)

	var wg sync.WaitGroup
	errChan := make(chan error, len(devices))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for d := range workQueue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				id := twin + "-" + d.ID
				props := make(map[string]interface{}, len(d.ConstProperties))
				for _, cp := range d.ConstProperties {
					props[cp.Name] = cp.Value
				}

				o.tel.Metrics.RecordProviderCall(string(p), cloud.VerbCreate)
				err := adapter.CreateDevice(ctx, cloud.DeviceTwin{ID: id, Properties: props})
				if cloud.IsAlreadyExists(err) {
					dc.logger.Debug().Str("device", id).Msg("Device already registered")
					err = nil
				}
				if err != nil {
					o.recordProviderError(p, err)
					errChan <- fmt.Errorf("failed to register device %s: %w", d.ID, err)
					continue
				}
				o.recordResource(ctx, dc, p, devicesService, id, registry.LayerAcquisition)
			}
		}()
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}
	return ctx.Err()
}

// uploadHierarchy pushes the entity hierarchy into the twin graph of
// the layer_4 provider, whichever family shape the project carries.
func (o *Orchestrator) uploadHierarchy(ctx context.Context, dc *DeploymentContext) error {
	if dc.Project.Hierarchy.Empty() {
		return nil
	}
	p, ok := dc.Project.ProviderMap.Provider(registry.LayerTwinGraph)
	if !ok {
		return nil
	}
	adapter, ok := o.adapters[p]
	if !ok {
		return fmt.Errorf("no adapter for provider %s", p)
	}
	graph, ok := adapter.TwinGraph()
	if !ok {
		dc.logger.Warn().Str("provider", string(p)).Msg("Provider has no twin graph capability, skipping hierarchy upload")
		return nil
	}

	twin := dc.Project.Settings.DigitalTwinName
	graphService := adapter.ServiceNames().TwinGraph

	createEntity := func(e cloud.TwinEntity) error {
		o.tel.Metrics.RecordProviderCall(string(p), cloud.VerbCreate)
		err := graph.CreateEntity(ctx, e)
		if cloud.IsAlreadyExists(err) {
			err = nil
		}
		if err != nil {
			o.recordProviderError(p, err)
			return fmt.Errorf("failed to create twin entity %s: %w", e.ID, err)
		}
		o.recordResource(ctx, dc, p, graphService, e.ID, registry.LayerTwinGraph)
		return nil
	}

	// AWS-family ordered forest: parents before children.
	var walk func(nodes []config.HierarchyNode) error
	walk = func(nodes []config.HierarchyNode) error {
		for _, node := range nodes {
			doc, err := json.Marshal(node)
			if err != nil {
				return err
			}
			if err := createEntity(cloud.TwinEntity{ID: twin + "-" + node.Name, Kind: node.Kind, Document: doc}); err != nil {
				return err
			}
			if err := walk(node.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(dc.Project.Hierarchy.Entities); err != nil {
		return err
	}

	// Azure-family documents: models first, then twins, then the
	// relationships that join them.
	for i, doc := range dc.Project.Hierarchy.Models {
		if err := createEntity(cloud.TwinEntity{ID: fmt.Sprintf("%s-model-%d", twin, i), Kind: "model", Document: doc}); err != nil {
			return err
		}
	}
	for i, doc := range dc.Project.Hierarchy.Twins {
		if err := createEntity(cloud.TwinEntity{ID: fmt.Sprintf("%s-twin-%d", twin, i), Kind: "twin", Document: doc}); err != nil {
			return err
		}
	}
	for i, doc := range dc.Project.Hierarchy.Relationships {
		if err := createEntity(cloud.TwinEntity{ID: fmt.Sprintf("%s-rel-%d", twin, i), Kind: "relationship", Document: doc}); err != nil {
			return err
		}
	}
	return nil
}

// syncDashboard wires the visualization dashboard to the storage
// outputs the tool reported after apply.
func (o *Orchestrator) syncDashboard(ctx context.Context, dc *DeploymentContext) error {
	if !dc.Project.Optimization.EnableDashboard {
		return nil
	}
	p, ok := dc.Project.ProviderMap.Provider(registry.LayerVisualization)
	if !ok {
		return nil
	}
	adapter, ok := o.adapters[p]
	if !ok {
		return fmt.Errorf("no adapter for provider %s", p)
	}
	dash, ok := adapter.Dashboard()
	if !ok {
		dc.logger.Warn().Str("provider", string(p)).Msg("Provider has no dashboard capability, skipping datasource wiring")
		return nil
	}

	twin := dc.Project.Settings.DigitalTwinName
	name := twin + "-dashboard"

	var datasources []string
	keys := make([]string, 0, len(dc.Outputs))
	for k := range dc.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := dc.Outputs[k]
		if v.Sensitive {
			continue
		}
		datasources = append(datasources, v.AsString())
	}

	o.tel.Metrics.RecordProviderCall(string(p), cloud.VerbCreate)
	err := dash.CreateDashboard(ctx, cloud.DashboardSpec{Name: name, Datasources: datasources})
	if cloud.IsAlreadyExists(err) {
		err = nil
	}
	if err != nil {
		o.recordProviderError(p, err)
		return fmt.Errorf("failed to sync dashboard: %w", err)
	}
	o.recordResource(ctx, dc, p, adapter.ServiceNames().Dashboard, name, registry.LayerVisualization)
	return nil
}

// teardownLayers removes per-layer artifacts in reverse deployment
// order: dashboards and devices first, then each layer's function code.
func (o *Orchestrator) teardownLayers(ctx context.Context, dc *DeploymentContext) {
	twin := dc.Project.Settings.DigitalTwinName
	layers := registry.MappedLayers()

	for i := len(layers) - 1; i >= 0; i-- {
		layer := layers[i]
		p, ok := dc.Project.ProviderMap.Provider(layer)
		if !ok {
			continue
		}
		adapter, ok := o.adapters[p]
		if !ok {
			dc.logger.Warn().Str("provider", string(p)).Msg("No adapter for provider, skipping layer teardown")
			continue
		}

		switch layer {
		case registry.LayerVisualization:
			if dash, ok := adapter.Dashboard(); ok {
				o.destroyCall(dc, p, "dashboard", twin+"-dashboard", func() error {
					return dash.DeleteDashboard(ctx, twin+"-dashboard")
				})
			}
		case registry.LayerAcquisition:
			ids, err := adapter.ListDevices(ctx, twin+"-")
			if err != nil {
				dc.logger.Warn().Err(err).Msg("Failed to list devices for teardown")
			}
			for _, id := range ids {
				o.destroyCall(dc, p, "device", id, func() error {
					return adapter.DeleteDevice(ctx, id)
				})
			}
		}

		for _, def := range o.registry.FunctionsFor(layer, p) {
			name := twin + "-" + def.Name
			o.destroyCall(dc, p, "function", name, func() error {
				return adapter.DeleteFunction(ctx, name)
			})
		}

		// Whole-layer archives deploy under the layer slug instead of
		// per-function names; a miss is already clean.
		slugName := twin + "-" + layer.Slug()
		o.destroyCall(dc, p, "function", slugName, func() error {
			return adapter.DeleteFunction(ctx, slugName)
		})

		o.setLayerPhase(ctx, dc, layer, stores.LayerPhaseDestroyed, nil)
	}
}

// teardownGlue removes the glue functions from their destination
// providers.
func (o *Orchestrator) teardownGlue(ctx context.Context, dc *DeploymentContext) {
	glue, err := o.resolver.RequiredGlueFunctions(dc.Project.ProviderMap)
	if err != nil {
		dc.logger.Warn().Err(err).Msg("Failed to resolve glue functions for teardown")
		return
	}

	twin := dc.Project.Settings.DigitalTwinName
	for _, name := range boundary.Names(glue) {
		def := glue[name]
		for p := range def.Providers {
			adapter, ok := o.adapters[p]
			if !ok {
				continue
			}
			deployed := twin + "-" + def.Name
			o.destroyCall(dc, p, "glue function", deployed, func() error {
				return adapter.DeleteFunction(ctx, deployed)
			})
		}
	}
}

// drainLedger deletes every resource still recorded live for this twin
// and marks the records deleted. This catches resources created by
// earlier runs that the per-layer teardown did not enumerate.
func (o *Orchestrator) drainLedger(ctx context.Context, dc *DeploymentContext) {
	recs, err := o.store.ListLiveResources(ctx, dc.Project.Settings.DigitalTwinName)
	if err != nil {
		dc.logger.Warn().Err(err).Msg("Failed to read resource ledger")
		return
	}

	for _, rec := range recs {
		p := registry.Provider(rec.Provider)
		adapter, ok := o.adapters[p]
		if !ok {
			continue
		}
		// A failed delete leaves the row live so the next destroy
		// retries it.
		if !o.destroyCall(dc, p, "ledger resource", rec.Name, func() error {
			return adapter.DeleteResource(ctx, cloud.ResourceRef{Service: rec.Service, Name: rec.Name})
		}) {
			continue
		}
		if err := o.store.MarkResourceDeleted(ctx, rec.ID); err != nil {
			dc.logger.Warn().Err(err).Str("resource", rec.Name).Msg("Failed to mark ledger entry deleted")
		}
	}
}

// destroyInfrastructure runs the provisioning tool's teardown. Failures
// are logged and do not stop the destroy; the sweep finalizer still
// runs.
func (o *Orchestrator) destroyInfrastructure(ctx context.Context, dc *DeploymentContext) {
	if dc.VarFile == "" {
		dc.logger.Warn().Msg("No variable file, skipping provisioning tool destroy")
		return
	}

	runner := o.newRunner(dc.Project.Path)
	if err := runner.Init(ctx); err != nil {
		dc.logger.Warn().Err(err).Msg("Provisioning tool init failed during destroy")
		return
	}
	if err := runner.Destroy(ctx, dc.VarFile); err != nil {
		dc.logger.Warn().Err(err).Msg("Provisioning tool destroy failed")
	}
}

// prepareDestroyVariables rebuilds the variable file for teardown,
// falling back to the one left by the last deploy when the project
// cannot be rebuilt.
func (o *Orchestrator) prepareDestroyVariables(ctx context.Context, dc *DeploymentContext) error {
	err := o.prepareArtifacts(ctx, dc)
	if err == nil {
		return nil
	}
	dc.logger.Warn().Err(err).Msg("Rebuild for destroy failed, falling back to the existing variable file")

	existing := filepath.Join(dc.Project.Path, config.TfvarsFileName)
	if _, statErr := os.Stat(existing); statErr != nil {
		return fmt.Errorf("no variable file for destroy: %w", statErr)
	}
	dc.VarFile = existing
	return nil
}

// sweep enumerates every service of every active provider for
// resources still carrying the twin's naming prefix and removes them.
// Sweep errors are logged, never propagated: the destroy outcome does
// not depend on them.
func (o *Orchestrator) sweep(ctx context.Context, dc *DeploymentContext) {
	twin := dc.Project.Settings.DigitalTwinName
	prefix := twin + "-"

	for _, p := range dc.Project.ProviderMap.ActiveProviders() {
		adapter, ok := o.adapters[p]
		if !ok {
			continue
		}

		table := adapter.ServiceNames()
		for _, service := range []string{table.Functions, table.Devices, table.TwinGraph, table.Dashboard} {
			if service == "" {
				continue
			}

			refs, err := adapter.ListByPrefix(ctx, service, prefix)
			if err != nil {
				dc.logger.Warn().Err(err).
					Str("provider", string(p)).
					Str("service", service).
					Msg("Sweep listing failed")
				continue
			}

			for _, ref := range refs {
				if err := adapter.DeleteResource(ctx, ref); err != nil && !cloud.IsNotFound(err) {
					dc.logger.Warn().Err(err).
						Str("provider", string(p)).
						Str("resource", ref.Name).
						Msg("Sweep deletion failed")
					continue
				}
				o.tel.Metrics.RecordSweepDeletion(string(p))
				dc.logger.Info().
					Str("provider", string(p)).
					Str("service", service).
					Str("resource", ref.Name).
					Msg("Sweep removed leftover resource")
			}
		}
	}
}

// destroyCall runs one teardown call, treating not-found as already
// clean and logging any other error without stopping the teardown. It
// reports whether the resource is confirmed gone.
func (o *Orchestrator) destroyCall(dc *DeploymentContext, p registry.Provider, kind, name string, fn func() error) bool {
	o.tel.Metrics.RecordProviderCall(string(p), cloud.VerbDelete)
	err := fn()
	if err == nil {
		dc.logger.Info().Str("resource", name).Msgf("Removed %s", kind)
		return true
	}
	if cloud.IsNotFound(err) {
		dc.logger.Debug().Str("resource", name).Msgf("%s already clean", kind)
		return true
	}
	o.recordProviderError(p, err)
	dc.logger.Warn().Err(err).Str("resource", name).Msgf("Failed to remove %s, continuing teardown", kind)
	return false
}

// recordRun persists the run and one layer-state row per mapped layer.
func (o *Orchestrator) recordRun(ctx context.Context, dc *DeploymentContext, op stores.RunOperation) error {
	pmJSON, err := json.Marshal(dc.Project.ProviderMap)
	if err != nil {
		return err
	}

	now := time.Now()
	run := &stores.DeploymentRun{
		ID:          dc.RunID,
		TwinName:    dc.Project.Settings.DigitalTwinName,
		Operation:   op,
		Status:      stores.RunStatusRunning,
		ProviderMap: string(pmJSON),
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return err
	}

	for _, layer := range registry.MappedLayers() {
		p, ok := dc.Project.ProviderMap.Provider(layer)
		if !ok {
			continue
		}
		row := &stores.LayerState{
			ID:        uuid.NewString(),
			RunID:     dc.RunID,
			Layer:     string(layer),
			Provider:  string(p),
			Phase:     stores.LayerPhaseInit,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.CreateLayerState(ctx, row); err != nil {
			return err
		}
		dc.layerRows[layer] = row.ID
	}
	return nil
}

// finishRun stamps the run's terminal status.
func (o *Orchestrator) finishRun(ctx context.Context, dc *DeploymentContext, status stores.RunStatus, errMsg *string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.UpdateRunStatus(ctx, dc.RunID, status, errMsg); err != nil {
		dc.logger.Warn().Err(err).Msg("Failed to record run status")
	}
}

// setLayerPhase advances one layer's persisted phase.
func (o *Orchestrator) setLayerPhase(ctx context.Context, dc *DeploymentContext, layer registry.Layer, phase stores.LayerPhase, cause error) {
	id, ok := dc.layerRows[layer]
	if !ok {
		return
	}
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}
	if err := o.store.UpdateLayerPhase(context.WithoutCancel(ctx), id, phase, errMsg); err != nil {
		dc.logger.Warn().Err(err).Str("layer", string(layer)).Msg("Failed to record layer phase")
	}
}

// setAllLayerPhases advances every mapped layer's persisted phase.
func (o *Orchestrator) setAllLayerPhases(ctx context.Context, dc *DeploymentContext, phase stores.LayerPhase) {
	for layer := range dc.layerRows {
		o.setLayerPhase(ctx, dc, layer, phase, nil)
	}
}

// recordResource appends one created resource to the ledger.
func (o *Orchestrator) recordResource(ctx context.Context, dc *DeploymentContext, p registry.Provider, service, name string, layer registry.Layer) {
	rec := &stores.ResourceRecord{
		ID:        uuid.NewString(),
		RunID:     dc.RunID,
		TwinName:  dc.Project.Settings.DigitalTwinName,
		Provider:  string(p),
		Service:   service,
		Name:      name,
		Layer:     string(layer),
		CreatedAt: time.Now(),
	}
	if err := o.store.RecordResource(ctx, rec); err != nil {
		dc.logger.Warn().Err(err).Str("resource", name).Msg("Failed to record resource in ledger")
	}
}

// recordProviderError counts one classified provider error.
func (o *Orchestrator) recordProviderError(p registry.Provider, err error) {
	class := "unknown"
	var apiErr *cloud.APIError
	if errors.As(err, &apiErr) {
		class = string(apiErr.Class)
	}
	o.tel.Metrics.RecordProviderError(string(p), class)
}

// deployedName is the cloud-side name of one archive's function: the
// twin prefix plus the function name, or the layer slug for whole-layer
// archives.
func deployedName(twin string, key builder.ArchiveKey) string {
	if key.Function != "" {
		return twin + "-" + key.Function
	}
	return twin + "-" + key.Layer.Slug()
}

// archiveVarName is the variable-file key carrying one archive path.
func archiveVarName(key builder.ArchiveKey) string {
	name := "archive_" + string(key.Provider) + "_" + key.Layer.Slug()
	if key.Function != "" {
		name += "_" + key.Function
	}
	return name
}

// sortedArchiveKeys returns the archive keys in stable order.
func sortedArchiveKeys(archives map[builder.ArchiveKey]string) []builder.ArchiveKey {
	keys := make([]builder.ArchiveKey, 0, len(archives))
	for k := range archives {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
