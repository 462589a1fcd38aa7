package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/registry"
)

// GCPSharedSubdir is the reserved subdirectory shared modules are placed
// under inside a Cloud Functions archive (not flattened: the sources
// import them as the `shared` package).
const GCPSharedSubdir = "shared"

// gcpManifestName is the dependency manifest the runtime requires.
const gcpManifestName = "requirements.txt"

// gcpMinimalManifest is synthesized when a function ships no manifest of
// its own; the runtime adapter is the one dependency every function
// needs.
const gcpMinimalManifest = "functions-framework==3.*\n"

// GCPBundler packages one function per archive in the Cloud Functions
// convention: entry file at root, shared modules under a reserved
// subdirectory, manifest synthesized when missing, and optional
// project-override modules merged in at root.
type GCPBundler struct {
	logger zerolog.Logger
}

// NewGCPBundler creates the GCP-style bundler.
func NewGCPBundler(logger zerolog.Logger) *GCPBundler {
	return &GCPBundler{logger: logger.With().Str("component", "bundler").Str("provider", "google").Logger()}
}

// Provider implements Bundler.
func (b *GCPBundler) Provider() registry.Provider { return registry.ProviderGoogle }

// Bundle implements Bundler.
func (b *GCPBundler) Bundle(_ context.Context, req Request) (*Bundle, error) {
	if len(req.Functions) != 1 {
		return nil, &BundleError{
			Provider: registry.ProviderGoogle,
			Message:  fmt.Sprintf("archive-per-function runtime takes exactly one function, got %d", len(req.Functions)),
		}
	}
	fn := req.Functions[0]

	if _, err := os.Stat(filepath.Join(fn.Dir, EntryFileGCP)); err != nil {
		return nil, &BundleError{
			Provider: registry.ProviderGoogle,
			Function: fn.Name,
			Message:  fmt.Sprintf("entry file %s not readable", EntryFileGCP),
			Err:      err,
		}
	}

	w := newArchiveWriter()
	if err := w.addDir(fn.Dir, ""); err != nil {
		return nil, &BundleError{Provider: registry.ProviderGoogle, Function: fn.Name, Message: "failed to stage function sources", Err: err}
	}
	if req.SharedDir != "" {
		if err := w.addDir(req.SharedDir, GCPSharedSubdir); err != nil {
			return nil, &BundleError{Provider: registry.ProviderGoogle, Function: fn.Name, Message: "failed to stage shared modules", Err: err}
		}
	}

	// User-code merge: a same-named module from the project override
	// directory replaces the generic wrapper at archive root, without
	// touching system code on disk.
	if req.OverridesDir != "" {
		if err := b.mergeOverrides(w, req.OverridesDir); err != nil {
			return nil, &BundleError{Provider: registry.ProviderGoogle, Function: fn.Name, Message: "failed to merge override modules", Err: err}
		}
	}

	if !w.has(gcpManifestName) {
		if err := w.add(gcpManifestName, []byte(gcpMinimalManifest)); err != nil {
			return nil, &BundleError{Provider: registry.ProviderGoogle, Function: fn.Name, Message: "failed to synthesize manifest", Err: err}
		}
		b.logger.Debug().Str("function", fn.Name).Msg("Synthesized minimal dependency manifest")
	}

	archive, err := w.render()
	if err != nil {
		return nil, &BundleError{Provider: registry.ProviderGoogle, Function: fn.Name, Message: "failed to render archive", Err: err}
	}

	if len(archive) > MaxArchiveSizeGCP {
		return nil, &BundleError{
			Provider: registry.ProviderGoogle,
			Function: fn.Name,
			Message: fmt.Sprintf("archive is %d bytes, above the %d byte direct-upload ceiling",
				len(archive), MaxArchiveSizeGCP),
		}
	}

	b.logger.Debug().Str("function", fn.Name).Int("bytes", len(archive)).Msg("Archive built")
	return &Bundle{Archive: archive, Functions: []string{fn.Name}, Provider: registry.ProviderGoogle}, nil
}

// mergeOverrides replaces staged root modules with same-named modules
// from the override directory. Overrides that match nothing are ignored:
// they may target a different function's wrapper.
func (b *GCPBundler) mergeOverrides(w *archiveWriter, overridesDir string) error {
	entries, err := os.ReadDir(overridesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || excludedFromArchive(entry.Name()) {
			continue
		}
		if !w.has(entry.Name()) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(overridesDir, entry.Name()))
		if err != nil {
			return err
		}
		w.entries[entry.Name()] = content
		b.logger.Debug().Str("module", entry.Name()).Msg("Project override merged")
	}
	return nil
}
