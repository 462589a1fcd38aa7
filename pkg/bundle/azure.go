package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/bundle/transform"
	"github.com/twinforge/twinforge/pkg/registry"
)

// azureManifestName is the dependency manifest of a function app.
const azureManifestName = "requirements.txt"

// azureMinimalManifest covers the runtime adapter every function needs.
const azureMinimalManifest = "azure-functions\n"

// AzureBundler packages multiple functions into one blueprint-style
// function app: every entry file is rewritten through the transform
// pipeline into a sub-app module, and a generated umbrella entry point
// registers each sub-app with the top-level app.
type AzureBundler struct {
	logger zerolog.Logger
}

// NewAzureBundler creates the Azure-style bundler.
func NewAzureBundler(logger zerolog.Logger) *AzureBundler {
	return &AzureBundler{logger: logger.With().Str("component", "bundler").Str("provider", "azure").Logger()}
}

// Provider implements Bundler.
func (b *AzureBundler) Provider() registry.Provider { return registry.ProviderAzure }

// Bundle implements Bundler.
func (b *AzureBundler) Bundle(_ context.Context, req Request) (*Bundle, error) {
	if len(req.Functions) == 0 {
		return nil, &BundleError{Provider: registry.ProviderAzure, Message: "no functions to bundle"}
	}

	entries := make(map[string]string, len(req.Functions))
	for _, fn := range req.Functions {
		raw, err := os.ReadFile(filepath.Join(fn.Dir, EntryFileAzure))
		if err != nil {
			return nil, &BundleError{
				Provider: registry.ProviderAzure,
				Function: fn.Name,
				Message:  fmt.Sprintf("entry file %s not readable", EntryFileAzure),
				Err:      err,
			}
		}
		entries[fn.Name] = string(raw)
	}

	// Colliding externally visible names must fail before any file is
	// staged; a partially assembled archive with silent collisions would
	// deploy one function and drop the other.
	if err := b.checkNameCollisions(req.Functions, entries); err != nil {
		return nil, err
	}

	w := newArchiveWriter()
	names := make([]string, 0, len(req.Functions))

	for _, fn := range req.Functions {
		rewritten, err := transform.Rewrite(entries[fn.Name])
		if err != nil {
			return nil, &BundleError{Provider: registry.ProviderAzure, Function: fn.Name, Message: "source rewrite failed", Err: err}
		}
		if err := w.add(fn.Name+".py", []byte(rewritten)); err != nil {
			return nil, &BundleError{Provider: registry.ProviderAzure, Function: fn.Name, Message: "failed to stage sub-app module", Err: err}
		}

		// Helper modules ship alongside the rewritten entry.
		if err := b.stageHelpers(w, fn); err != nil {
			return nil, &BundleError{Provider: registry.ProviderAzure, Function: fn.Name, Message: "failed to stage helper modules", Err: err}
		}

		names = append(names, fn.Name)
	}

	if req.SharedDir != "" {
		if err := w.addDir(req.SharedDir, "shared"); err != nil {
			return nil, &BundleError{Provider: registry.ProviderAzure, Message: "failed to stage shared modules", Err: err}
		}
	}

	if err := w.add(EntryFileAzure, []byte(umbrellaEntry(names))); err != nil {
		return nil, &BundleError{Provider: registry.ProviderAzure, Message: "failed to stage umbrella entry point", Err: err}
	}

	if !w.has(azureManifestName) {
		if err := w.add(azureManifestName, []byte(azureMinimalManifest)); err != nil {
			return nil, &BundleError{Provider: registry.ProviderAzure, Message: "failed to synthesize manifest", Err: err}
		}
	}

	archive, err := w.render()
	if err != nil {
		return nil, &BundleError{Provider: registry.ProviderAzure, Message: "failed to render archive", Err: err}
	}

	b.logger.Debug().Strs("functions", names).Int("bytes", len(archive)).Msg("Blueprint archive built")
	return &Bundle{Archive: archive, Functions: names, Provider: registry.ProviderAzure}, nil
}

// checkNameCollisions rejects bundles where two functions declare the
// same externally visible function name, either as their registered name
// or as a top-level definition in their entry files.
func (b *AzureBundler) checkNameCollisions(functions []Function, entries map[string]string) error {
	seen := make(map[string]bool, len(functions))
	for _, fn := range functions {
		if seen[fn.Name] {
			return &BundleError{
				Provider: registry.ProviderAzure,
				Function: fn.Name,
				Message:  fmt.Sprintf("function name %q registered more than once", fn.Name),
			}
		}
		seen[fn.Name] = true
	}

	owner := make(map[string]string)

	claim := func(name, fn string) error {
		if name == "" || strings.HasPrefix(name, "_") {
			return nil
		}
		if prev, taken := owner[name]; taken && prev != fn {
			return &BundleError{
				Provider: registry.ProviderAzure,
				Function: fn,
				Message:  fmt.Sprintf("function name %q already declared by %q", name, prev),
			}
		}
		owner[name] = fn
		return nil
	}

	for _, fn := range functions {
		if err := claim(fn.Name, fn.Name); err != nil {
			return err
		}
		for _, def := range topLevelDefs(entries[fn.Name]) {
			if err := claim(def, fn.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// stageHelpers stages the function directory's non-entry files.
func (b *AzureBundler) stageHelpers(w *archiveWriter, fn Function) error {
	files, err := os.ReadDir(fn.Dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || f.Name() == EntryFileAzure || excludedFromArchive(f.Name()) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(fn.Dir, f.Name()))
		if err != nil {
			return err
		}
		if err := w.add(f.Name(), content); err != nil {
			return err
		}
	}
	return nil
}

// umbrellaEntry renders the generated top-level entry point that imports
// each function's sub-app and registers it with the app.
func umbrellaEntry(names []string) string {
	var b strings.Builder
	b.WriteString("import azure.functions as func\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "from %s import bp as %s_bp\n", name, name)
	}
	b.WriteString("\napp = func.FunctionApp()\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "app.register_functions(%s_bp)\n", name)
	}
	return b.String()
}
