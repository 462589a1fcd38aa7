package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events an editor save produces
// into one reload.
const reloadDebounce = 500 * time.Millisecond

// Loader reads project policy rules from disk. Projects extend the
// built-in rules with their own Rego files and point the CLI at them
// through the settings policy paths.
type Loader struct {
	logger zerolog.Logger

	mu       sync.Mutex
	debounce time.Duration
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "policy-loader").Logger(),
		debounce: reloadDebounce,
	}
}

// LoadFromPaths loads every policy under the given file or directory
// paths. Files are always read fresh so a reload picks up edits.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

// loadFromPath loads policies from a single file or directory path.
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory loads every .rego file under dirPath recursively.
// A file that fails to load is logged and skipped; one broken rule must
// not take the whole set down.
func (l *Loader) loadFromDirectory(_ context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

// loadFromFile loads one Rego policy file.
func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	if !strings.HasSuffix(filePath, ".rego") {
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	policy := l.parseRego(filePath, data)
	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")

	return policy, nil
}

// parseRego builds a Policy from Rego source. The name comes from the
// file name and the description from the leading comment block; a rule
// that wants to block a deployment raises its severity inside the deny
// result instead.
func (l *Loader) parseRego(filePath string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")
	now := time.Now()

	return &Policy{
		Name:        name,
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{},
		Metadata: map[string]interface{}{
			"source": filePath,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// extractDescription joins the comment block above the package clause
// into a one-line description.
func extractDescription(content string) string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" && !strings.HasPrefix(comment, "package") {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(comment)
			}
		} else if trimmed != "" && b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// Watch reloads the policies under paths whenever a .rego file changes
// and hands the fresh set to apply. It blocks until ctx is cancelled;
// run it in its own goroutine next to the main loop. Load and apply
// failures are logged and watching continues, so a half-saved rule can
// be fixed in place.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range paths {
		if err := addWatchPath(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch policy path")
		}
	}
	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.reloadDelay(), func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			policies, err := l.LoadFromPaths(ctx, paths)
			if err != nil {
				l.logger.Warn().Err(err).Msg("Policy reload failed")
				continue
			}
			if err := apply(policies); err != nil {
				l.logger.Warn().Err(err).Msg("Failed to apply reloaded policies")
				continue
			}
			l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reloadDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debounce
}

// addWatchPath registers path with the watcher; directories are watched
// recursively so rules in subdirectories reload too.
func addWatchPath(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}
