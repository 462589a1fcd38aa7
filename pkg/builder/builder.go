// Package builder fans function bundling out across providers and layers
// and stages the finished archives into the project build cache. Archive
// paths are deterministic so repeated builds of the same project land on
// the same files.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/bundle"
	"github.com/twinforge/twinforge/pkg/config"
	"github.com/twinforge/twinforge/pkg/registry"
)

// DefaultMaxParallel bounds concurrent bundling workers when the caller
// does not choose a limit.
const DefaultMaxParallel = 4

// CacheDirName is the build cache directory inside a project.
const CacheDirName = ".twinforge/build"

// ArchiveKey identifies one archive in the build cache. Function is empty
// for blueprint archives that carry a whole layer.
type ArchiveKey struct {
	Provider registry.Provider
	Layer    registry.Layer
	Function string
}

// String returns the key in "provider/layer[/function]" form.
func (k ArchiveKey) String() string {
	if k.Function == "" {
		return fmt.Sprintf("%s/%s", k.Provider, k.Layer)
	}
	return fmt.Sprintf("%s/%s/%s", k.Provider, k.Layer, k.Function)
}

// path returns the archive's location inside the build cache.
func (k ArchiveKey) path(cacheDir string) string {
	name := k.Layer.Slug()
	if k.Function != "" {
		name += "_" + k.Function
	}
	return filepath.Join(cacheDir, string(k.Provider), name+".zip")
}

// unit is one archive to build.
type unit struct {
	key ArchiveKey
	req bundle.Request
}

// Builder plans and executes the bundling work for one project.
type Builder struct {
	registry    *registry.Registry
	bundlers    map[registry.Provider]bundle.Bundler
	maxParallel int
	logger      zerolog.Logger
}

// New creates a builder over the default per-provider bundlers.
func New(reg *registry.Registry, logger zerolog.Logger) *Builder {
	return &Builder{
		registry: reg,
		bundlers: map[registry.Provider]bundle.Bundler{
			registry.ProviderAWS:    bundle.NewAWSBundler(logger),
			registry.ProviderAzure:  bundle.NewAzureBundler(logger),
			registry.ProviderGoogle: bundle.NewGCPBundler(logger),
		},
		maxParallel: DefaultMaxParallel,
		logger:      logger.With().Str("component", "builder").Logger(),
	}
}

// WithMaxParallel sets the worker count for the bundling pool.
func (b *Builder) WithMaxParallel(n int) *Builder {
	if n > 0 {
		b.maxParallel = n
	}
	return b
}

// BuildAll bundles every function the provider map and optimization flags
// call for, plus the given glue functions, and writes the archives into
// the project's build cache. It returns the cache path per archive key.
// Any bundling failure aborts the whole build; no partial result map is
// returned.
func (b *Builder) BuildAll(
	ctx context.Context,
	project *config.Project,
	glue map[string]registry.FunctionDefinition,
) (map[ArchiveKey]string, error) {
	units := b.planUnits(project, glue)
	if len(units) == 0 {
		return map[ArchiveKey]string{}, nil
	}

	cacheDir := filepath.Join(project.Path, CacheDirName)

	workerCount := b.maxParallel
	if len(units) < workerCount {
		workerCount = len(units)
	}

	workQueue := make(chan unit, len(units))
	for _, u := range units {
		workQueue <- u
	}
	close(workQueue)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		paths   = make(map[ArchiveKey]string, len(units))
		errChan = make(chan error, len(units))
	)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for u := range workQueue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				path, err := b.buildUnit(ctx, u, cacheDir)
				if err != nil {
					errChan <- err
					continue
				}

				mu.Lock()
				paths[u.key] = path
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	close(errChan)

	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.logger.Info().Int("archives", len(paths)).Msg("Build cache populated")
	return paths, nil
}

// buildUnit bundles one archive and stages it in the cache.
func (b *Builder) buildUnit(ctx context.Context, u unit, cacheDir string) (string, error) {
	bundler, ok := b.bundlers[u.key.Provider]
	if !ok {
		return "", fmt.Errorf("no bundler for provider %s", u.key.Provider)
	}

	result, err := bundler.Bundle(ctx, u.req)
	if err != nil {
		return "", err
	}

	path := u.key.path(cacheDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, result.Archive, 0o644); err != nil {
		return "", fmt.Errorf("failed to stage archive %s: %w", u.key, err)
	}

	b.logger.Debug().
		Str("archive", u.key.String()).
		Strs("functions", result.Functions).
		Int("bytes", len(result.Archive)).
		Msg("Archive staged")
	return path, nil
}

// planUnits derives the archives to build from the provider map, the
// optimization flags, and the glue set. Azure's blueprint runtime packs a
// whole layer into one archive; the archive-per-function runtimes get one
// unit per function.
func (b *Builder) planUnits(project *config.Project, glue map[string]registry.FunctionDefinition) []unit {
	functionsRoot := filepath.Join(project.Path, "functions")
	sharedDir := existingDir(filepath.Join(functionsRoot, "shared"))
	overridesDir := existingDir(filepath.Join(project.Path, "overrides"))

	var units []unit

	for _, p := range project.ProviderMap.ActiveProviders() {
		for _, layer := range project.ProviderMap.LayersFor(p) {
			var fns []bundle.Function
			for _, def := range b.registry.FunctionsFor(layer, p) {
				if !enabledByFlags(def, project.Optimization) {
					continue
				}
				fns = append(fns, bundle.Function{Name: def.Name, Dir: filepath.Join(functionsRoot, def.Dir)})
			}
			if len(fns) == 0 {
				continue
			}
			units = append(units, b.layerUnits(p, layer, fns, sharedDir, overridesDir)...)
		}
	}

	units = append(units, b.glueUnits(glue, functionsRoot, sharedDir, overridesDir)...)
	return units
}

// layerUnits turns one provider-owned layer into build units.
func (b *Builder) layerUnits(
	p registry.Provider,
	layer registry.Layer,
	fns []bundle.Function,
	sharedDir, overridesDir string,
) []unit {
	if p == registry.ProviderAzure {
		return []unit{{
			key: ArchiveKey{Provider: p, Layer: layer},
			req: bundle.Request{Functions: fns, SharedDir: sharedDir},
		}}
	}

	units := make([]unit, 0, len(fns))
	for _, fn := range fns {
		units = append(units, unit{
			key: ArchiveKey{Provider: p, Layer: layer, Function: fn.Name},
			req: bundle.Request{Functions: []bundle.Function{fn}, SharedDir: sharedDir, OverridesDir: overridesDir},
		})
	}
	return units
}

// glueUnits turns the resolved glue set into build units, grouped by the
// destination provider that hosts each function.
func (b *Builder) glueUnits(
	glue map[string]registry.FunctionDefinition,
	functionsRoot, sharedDir, overridesDir string,
) []unit {
	byProvider := make(map[registry.Provider][]bundle.Function)
	for _, def := range glue {
		for p := range def.Providers {
			byProvider[p] = append(byProvider[p], bundle.Function{
				Name: def.Name,
				Dir:  filepath.Join(functionsRoot, def.Dir),
			})
		}
	}

	var units []unit
	for _, p := range registry.AllProviders() {
		fns := byProvider[p]
		if len(fns) == 0 {
			continue
		}
		sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
		units = append(units, b.layerUnits(p, registry.LayerGlue, fns, sharedDir, overridesDir)...)
	}
	return units
}

// enabledByFlags applies the optimization toggles to the catalog's
// flag-gated functions. Everything else always builds.
func enabledByFlags(def registry.FunctionDefinition, flags config.OptimizationFlags) bool {
	switch def.Flag {
	case registry.FlagEventFeedback:
		return flags.EnableEventFeedback
	case registry.FlagDashboard:
		return flags.EnableDashboard
	case registry.FlagArchiveTier:
		return flags.EnableArchiveTier
	default:
		return true
	}
}

// existingDir returns path when it is a directory, otherwise "".
func existingDir(path string) string {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return ""
	}
	return path
}
