package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/registry"
)

// AWSHandlerName is the conventionally named handler function the entry
// file must define at top level.
const AWSHandlerName = "lambda_handler"

// AWSBundler packages one function per archive in the Lambda convention:
// the entry file sits at archive root, shared modules are flattened to
// root alongside it, and the entry file must define the handler.
type AWSBundler struct {
	logger zerolog.Logger
}

// NewAWSBundler creates the AWS-style bundler.
func NewAWSBundler(logger zerolog.Logger) *AWSBundler {
	return &AWSBundler{logger: logger.With().Str("component", "bundler").Str("provider", "aws").Logger()}
}

// Provider implements Bundler.
func (b *AWSBundler) Provider() registry.Provider { return registry.ProviderAWS }

// Bundle implements Bundler. The Lambda runtime is archive-per-function:
// exactly one function directory is accepted.
func (b *AWSBundler) Bundle(_ context.Context, req Request) (*Bundle, error) {
	if len(req.Functions) != 1 {
		return nil, &BundleError{
			Provider: registry.ProviderAWS,
			Message:  fmt.Sprintf("archive-per-function runtime takes exactly one function, got %d", len(req.Functions)),
		}
	}
	fn := req.Functions[0]

	entryPath := filepath.Join(fn.Dir, EntryFileAWS)
	entry, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, &BundleError{
			Provider: registry.ProviderAWS,
			Function: fn.Name,
			Message:  fmt.Sprintf("entry file %s not readable", EntryFileAWS),
			Err:      err,
		}
	}

	// The handler must exist before packaging completes, not surface as
	// a runtime surprise after deployment.
	if !hasTopLevelDef(string(entry), AWSHandlerName) {
		return nil, &BundleError{
			Provider: registry.ProviderAWS,
			Function: fn.Name,
			Message:  fmt.Sprintf("entry file %s does not define handler %q", EntryFileAWS, AWSHandlerName),
		}
	}

	w := newArchiveWriter()
	if err := w.addDir(fn.Dir, ""); err != nil {
		return nil, &BundleError{Provider: registry.ProviderAWS, Function: fn.Name, Message: "failed to stage function sources", Err: err}
	}
	if req.SharedDir != "" {
		if err := w.addDirFlat(req.SharedDir); err != nil {
			return nil, &BundleError{Provider: registry.ProviderAWS, Function: fn.Name, Message: "failed to flatten shared modules", Err: err}
		}
	}

	archive, err := w.render()
	if err != nil {
		return nil, &BundleError{Provider: registry.ProviderAWS, Function: fn.Name, Message: "failed to render archive", Err: err}
	}

	if len(archive) > MaxArchiveSizeAWS {
		return nil, &BundleError{
			Provider: registry.ProviderAWS,
			Function: fn.Name,
			Message: fmt.Sprintf("archive is %d bytes, above the %d byte direct-upload ceiling",
				len(archive), MaxArchiveSizeAWS),
		}
	}

	b.logger.Debug().Str("function", fn.Name).Int("bytes", len(archive)).Msg("Archive built")
	return &Bundle{Archive: archive, Functions: []string{fn.Name}, Provider: registry.ProviderAWS}, nil
}
