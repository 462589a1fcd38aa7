// Package transform implements the source-level rewrites applied to
// function entry files when multiple functions are packaged into one
// blueprint-style deployable unit. Each transform is an explicit,
// independently testable stage: text in, text out. The pipeline applies
// them in a fixed order; see Rewrite.
package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Rewrite applies the four blueprint-packaging transforms to one function
// entry file, in order:
//
//  1. import cleanup: drop the local-dev "adjust search path" fallback
//     block and collect the shared-module imports it guarded,
//  2. app->blueprint conversion,
//  3. lazy environment-variable loading,
//  4. deduplicated re-insertion of the collected shared imports.
func Rewrite(src string) (string, error) {
	cleaned, imports := CleanupImports(src)
	converted := ConvertToBlueprint(cleaned)
	lazy, err := LazyEnvGetters(converted)
	if err != nil {
		return "", err
	}
	return ReinsertImports(lazy, imports), nil
}

// isSharedImport reports whether a trimmed line imports from the shared
// utility modules.
func isSharedImport(trimmed string) bool {
	return strings.HasPrefix(trimmed, "from shared") ||
		trimmed == "import shared" ||
		strings.HasPrefix(trimmed, "import shared.")
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// CleanupImports removes the conditional "resolve shared modules by
// adjusting the search path" block that exists only for local
// development:
//
//	try:
//	    from shared.pipeline import load_pipeline_config
//	except ImportError:
//	    sys.path.append(...)
//	    from shared.pipeline import load_pipeline_config
//
// The guarded shared-module imports are collected and returned so
// ReinsertImports can add them back exactly once. Everything else passes
// through untouched.
func CleanupImports(src string) (string, []string) {
	lines := strings.Split(src, "\n")
	var out []string
	imports := make(map[string]bool)

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "try:" || indentOf(lines[i]) != 0 {
			out = append(out, lines[i])
			continue
		}

		// Candidate block: the try body must consist solely of shared
		// imports, immediately followed by an "except ImportError:" arm.
		j := i + 1
		var guarded []string
		for j < len(lines) {
			t := strings.TrimSpace(lines[j])
			if t == "" || indentOf(lines[j]) == 0 {
				break
			}
			if !isSharedImport(t) {
				break
			}
			guarded = append(guarded, t)
			j++
		}

		if len(guarded) == 0 || j >= len(lines) || strings.TrimSpace(lines[j]) != "except ImportError:" {
			out = append(out, lines[i])
			continue
		}

		// Skip the except body (the sys.path adjustment and the repeated
		// imports); it ends at the next column-0 line.
		j++
		for j < len(lines) {
			if strings.TrimSpace(lines[j]) != "" && indentOf(lines[j]) == 0 {
				break
			}
			j++
		}

		for _, imp := range guarded {
			imports[imp] = true
		}
		i = j - 1
	}

	collected := make([]string, 0, len(imports))
	for imp := range imports {
		collected = append(collected, imp)
	}
	sort.Strings(collected)

	return strings.Join(out, "\n"), collected
}

var (
	appCreateRe    = regexp.MustCompile(`^app\s*=\s*func\.FunctionApp\(.*\)\s*$`)
	appDecoratorRe = regexp.MustCompile(`^(\s*)@app\.`)
	appRegisterRe  = regexp.MustCompile(`^app\.`)
)

// ConvertToBlueprint rewrites the top-level app-creation statement and
// every route/registration decorator from the standalone app form to the
// sub-app (blueprint) form, so several functions can be registered under
// one umbrella entry point without colliding.
func ConvertToBlueprint(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		switch {
		case appCreateRe.MatchString(line):
			lines[i] = "bp = func.Blueprint()"
		case appDecoratorRe.MatchString(line):
			lines[i] = appDecoratorRe.ReplaceAllString(line, "${1}@bp.")
		case appRegisterRe.MatchString(line):
			lines[i] = appRegisterRe.ReplaceAllString(line, "bp.")
		}
	}
	return strings.Join(lines, "\n")
}

// envAssignRe matches a module-level eager environment read:
//
//	API_KEY = read_required_env("SERVICE_KEY")
var envAssignRe = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*=\s*read_required_env\((".*?"|'.*?')\)\s*$`)

// LazyEnvGetters rewrites every module-level
// `CONST = read_required_env("NAME")` statement into a private
// lazy-initialized getter and rewrites each use-site of CONST to call the
// getter. Eager module-level reads fail at function-discovery time when
// the variable is only set for a sibling function sharing the deployable
// unit; the getter defers the failure to the invocation that actually
// needs the value. The environment variable name literal is preserved
// unchanged: use-sites inside string literals are never touched.
func LazyEnvGetters(src string) (string, error) {
	lines := strings.Split(src, "\n")

	type envConst struct {
		name    string
		literal string
	}
	var consts []envConst
	assignments := make(map[int]envConst)

	for i, line := range lines {
		m := envAssignRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		c := envConst{name: m[1], literal: m[2]}
		consts = append(consts, c)
		assignments[i] = c
	}
	if len(consts) == 0 {
		return src, nil
	}

	// Rewrite use-sites first, on the original lines, so the generated
	// getter blocks are never revisited.
	for _, c := range consts {
		useRe, err := regexp.Compile(`\b` + regexp.QuoteMeta(c.name) + `\b`)
		if err != nil {
			return "", fmt.Errorf("lazy env transform: %w", err)
		}
		getter := fmt.Sprintf("_get_%s()", strings.ToLower(c.name))

		for i := range lines {
			if _, isAssign := assignments[i]; isAssign {
				continue
			}
			lines[i] = replaceOutsideStrings(lines[i], useRe, getter)
		}
	}

	var out []string
	for i, line := range lines {
		c, isAssign := assignments[i]
		if !isAssign {
			out = append(out, line)
			continue
		}

		lower := strings.ToLower(c.name)
		out = append(out,
			fmt.Sprintf("_%s = None", lower),
			"",
			"",
			fmt.Sprintf("def _get_%s():", lower),
			fmt.Sprintf("    global _%s", lower),
			fmt.Sprintf("    if _%s is None:", lower),
			fmt.Sprintf("        _%s = read_required_env(%s)", lower, c.literal),
			fmt.Sprintf("    return _%s", lower),
		)
	}

	return strings.Join(out, "\n"), nil
}

// replaceOutsideStrings applies re.ReplaceAllString to the segments of
// line that are not inside a single- or double-quoted string literal.
func replaceOutsideStrings(line string, re *regexp.Regexp, repl string) string {
	var b strings.Builder
	var quote byte
	segStart := 0

	flush := func(end int, inString bool) {
		seg := line[segStart:end]
		if inString {
			b.WriteString(seg)
		} else {
			b.WriteString(re.ReplaceAllString(seg, repl))
		}
		segStart = end
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		if quote == 0 {
			if ch == '"' || ch == '\'' {
				flush(i, false)
				quote = ch
			}
			continue
		}
		if ch == '\\' {
			i++
			continue
		}
		if ch == quote {
			flush(i+1, true)
			quote = 0
		}
	}
	flush(len(line), quote != 0)

	return b.String()
}

func isTopLevelImport(line string) bool {
	return strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "from ")
}

// ReinsertImports inserts the previously collected shared-module imports
// exactly once, after the last top-level import statement, or at the top
// of the file if there is none. Imports already present are not
// duplicated.
func ReinsertImports(src string, imports []string) string {
	if len(imports) == 0 {
		return src
	}

	lines := strings.Split(src, "\n")

	present := make(map[string]bool)
	lastImport := -1
	for i, line := range lines {
		if isTopLevelImport(line) {
			present[strings.TrimSpace(line)] = true
			lastImport = i
		}
	}

	var missing []string
	for _, imp := range imports {
		if !present[imp] {
			missing = append(missing, imp)
		}
	}
	if len(missing) == 0 {
		return src
	}
	sort.Strings(missing)

	insertAt := lastImport + 1
	out := make([]string, 0, len(lines)+len(missing))
	out = append(out, lines[:insertAt]...)
	out = append(out, missing...)
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n")
}
