// Package bundle transforms function source directories plus shared
// utility modules into deployable archives, honoring each provider's
// function-app packaging convention. A BundleError always aborts the
// whole bundle: no partial archive is ever returned.
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twinforge/twinforge/pkg/registry"
)

// Entry file names per provider runtime convention.
const (
	EntryFileAWS   = "lambda_function.py"
	EntryFileGCP   = "main.py"
	EntryFileAzure = "function_app.py"
)

// Direct-upload archive size ceilings.
const (
	MaxArchiveSizeAWS = 50 * 1024 * 1024
	MaxArchiveSizeGCP = 100 * 1024 * 1024
)

// Function names one function source directory to be bundled.
type Function struct {
	// Name is the externally visible function name.
	Name string

	// Dir is the absolute path of the function's source directory.
	Dir string
}

// Request is the common bundling input across providers.
type Request struct {
	// Functions are the function directories to package. Archive-per-
	// function runtimes accept exactly one; the blueprint runtime
	// accepts many.
	Functions []Function

	// SharedDir is the shared utility module directory. May be empty.
	SharedDir string

	// OverridesDir optionally supplies project-level same-named modules
	// that replace generic wrappers at archive root (GCP only).
	OverridesDir string
}

// Bundle is a finished archive and the functions it contains.
type Bundle struct {
	// Archive is the zip payload.
	Archive []byte

	// Functions are the names of the functions inside the archive.
	Functions []string

	// Provider is the runtime the archive targets.
	Provider registry.Provider
}

// Bundler packages function sources for one provider runtime.
type Bundler interface {
	// Provider returns the runtime this bundler targets.
	Provider() registry.Provider

	// Bundle produces a deployable archive or a BundleError. On error no
	// archive is returned.
	Bundle(ctx context.Context, req Request) (*Bundle, error)
}

// BundleError reports source code that cannot be safely packaged.
type BundleError struct {
	// Provider is the target runtime.
	Provider registry.Provider `json:"provider"`

	// Function is the offending function, when attributable.
	Function string `json:"function,omitempty"`

	// Message describes what made packaging unsafe.
	Message string `json:"message"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *BundleError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("bundle error (%s, function %s): %s", e.Provider, e.Function, e.Message)
	}
	return fmt.Sprintf("bundle error (%s): %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *BundleError) Unwrap() error {
	return e.Err
}

// IsBundle reports whether err is (or wraps) a BundleError.
func IsBundle(err error) bool {
	var be *BundleError
	return errors.As(err, &be)
}

// archiveWriter accumulates entries and renders a deterministic zip:
// entries sorted by name, zeroed timestamps. Identical inputs produce
// identical archive bytes, which keeps the build cache idempotent.
type archiveWriter struct {
	entries map[string][]byte
}

func newArchiveWriter() *archiveWriter {
	return &archiveWriter{entries: make(map[string][]byte)}
}

// add stages one entry. Staging the same name twice with different
// content is a packaging conflict.
func (w *archiveWriter) add(name string, content []byte) error {
	if existing, ok := w.entries[name]; ok {
		if bytes.Equal(existing, content) {
			return nil
		}
		return fmt.Errorf("archive entry %q staged twice with different content", name)
	}
	w.entries[name] = content
	return nil
}

func (w *archiveWriter) has(name string) bool {
	_, ok := w.entries[name]
	return ok
}

// addDir stages every packageable file under root, placed below prefix
// ("" flattens nothing away; entries keep their relative path). Compiled
// bytecode caches are excluded.
func (w *archiveWriter) addDir(root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedFromArchive(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return w.add(path.Join(prefix, filepath.ToSlash(rel)), content)
	})
}

// addDirFlat stages the files directly under root at archive root,
// discarding subdirectory structure.
func (w *archiveWriter) addDirFlat(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedFromArchive(d.Name()) {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return w.add(d.Name(), content)
	})
}

// render writes the zip payload.
func (w *archiveWriter) render() ([]byte, error) {
	names := make([]string, 0, len(w.entries))
	for name := range w.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(w.entries[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// excludedFromArchive reports files that never belong in a deployable
// archive.
func excludedFromArchive(name string) bool {
	return strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, ".pyo") || name == ".DS_Store"
}

// topLevelDefs returns the names of the top-level `def name(` definitions
// in a Python source file, in order of appearance.
func topLevelDefs(src string) []string {
	var names []string
	for _, line := range strings.Split(src, "\n") {
		if !strings.HasPrefix(line, "def ") {
			continue
		}
		rest := strings.TrimPrefix(line, "def ")
		if idx := strings.IndexByte(rest, '('); idx > 0 {
			names = append(names, strings.TrimSpace(rest[:idx]))
		}
	}
	return names
}

// hasTopLevelDef reports whether a Python source defines the named
// function at top level.
func hasTopLevelDef(src, name string) bool {
	for _, def := range topLevelDefs(src) {
		if def == name {
			return true
		}
	}
	return false
}
