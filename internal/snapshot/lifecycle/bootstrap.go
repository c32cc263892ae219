package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SnapshotImports are always imported before a capture so their module
// initialization is part of every snapshot.
var SnapshotImports = []string{
	"_pyodide.docstring",
	"_pyodide._core_docs",
	"traceback",
	"collections.abc",
	"asyncio",
	"inspect",
	"tarfile",
	"importlib.metadata",
	"re",
	"shutil",
	"sysconfig",
	"importlib.machinery",
	"pathlib",
	"site",
	"tempfile",
	"typing",
	"zipfile",
}

// TestModuleName is the module test-mode payloads are exposed under.
const TestModuleName = "memsnap_test_utils"

// Interpreter runs source text in the interpreter's __main__ scope.
type Interpreter interface {
	RunCode(ctx context.Context, source string) error
}

// topLevelNames returns the distinct first segments of modules, in order.
func topLevelNames(modules []string) []string {
	seen := make(map[string]bool, len(modules))
	var names []string
	for _, m := range modules {
		top, _, _ := strings.Cut(m, ".")
		if !seen[top] {
			seen[top] = true
			names = append(names, top)
		}
	}
	return names
}

// bootstrapSource returns the statements of the baseline bootstrap in the
// order they run.
func bootstrapSource(modules []string) []string {
	return []string{
		"import " + strings.Join(modules, ","),
		"sysconfig.get_config_vars()",
		"del " + strings.Join(topLevelNames(modules), ","),
	}
}

func runBootstrap(ctx context.Context, interp Interpreter, modules []string) error {
	for _, src := range bootstrapSource(modules) {
		if err := interp.RunCode(ctx, src); err != nil {
			return fmt.Errorf("bootstrap %q: %w", src, err)
		}
	}
	return nil
}

// WarmupResult is the outcome of one warm-up import.
type WarmupResult struct {
	Module string
	Err    error
}

// WarmupReport records every import attempted by a dedicated snapshot
// warm-up pass.
type WarmupReport struct {
	Results []WarmupResult
}

// Succeeded returns the modules that imported cleanly.
func (r *WarmupReport) Succeeded() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Module)
		}
	}
	return out
}

// Failed returns the results that failed.
func (r *WarmupReport) Failed() []WarmupResult {
	var out []WarmupResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// warmup attempts every import in turn. __import__ loads the module without
// binding a name in __main__, so nothing needs deleting afterwards. A
// failing import is recorded and the pass continues.
func warmup(ctx context.Context, interp Interpreter, modules []string) *WarmupReport {
	report := &WarmupReport{Results: make([]WarmupResult, 0, len(modules))}
	for _, m := range modules {
		err := interp.RunCode(ctx, "__import__("+strconv.Quote(m)+")")
		report.Results = append(report.Results, WarmupResult{Module: m, Err: err})
	}
	return report
}

var (
	importLine = regexp.MustCompile(`^import\s+(.+)$`)
	fromLine   = regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)\s+import\b`)
	moduleName = regexp.MustCompile(`^[A-Za-z_][\w]*(\.[A-Za-z_][\w]*)*$`)
)

// ScriptImports lists the absolute modules a script imports, in first-seen
// order. Statements are matched per logical line, so backslash
// continuations and bracketed import lists are joined while string literals
// and comments are ignored. Relative imports are skipped.
func ScriptImports(script string) []string {
	seen := make(map[string]bool)
	var modules []string
	add := func(m string) {
		if moduleName.MatchString(m) && !seen[m] {
			seen[m] = true
			modules = append(modules, m)
		}
	}

	for _, line := range logicalLines(script) {
		if m := fromLine.FindStringSubmatch(line); m != nil {
			add(m[1])
			continue
		}
		if m := importLine.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				name, _, _ := strings.Cut(strings.TrimSpace(part), " ")
				add(name)
			}
		}
	}
	return modules
}

// logicalLines splits src into trimmed logical lines. Each string literal
// collapses to "" and comments are dropped. Statements joined by a
// semicolon come back as separate lines.
func logicalLines(src string) []string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	var (
		lines []string
		cur   strings.Builder
		depth int
	)
	flush := func() {
		if line := strings.TrimSpace(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '#':
			for i+1 < len(src) && src[i+1] != '\n' {
				i++
			}
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			i++
			cur.WriteByte(' ')
		case c == '"' || c == '\'':
			i = stringEnd(src, i)
			cur.WriteString(`""`)
		case c == '(' || c == '[' || c == '{':
			depth++
			cur.WriteByte(c)
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteByte(c)
		case (c == '\n' || c == ';') && depth == 0:
			flush()
		case c == '\n':
			cur.WriteByte(' ')
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return lines
}

// stringEnd returns the index of the closing quote of the literal opening at
// src[i]. An unterminated single-quoted literal ends before its newline.
func stringEnd(src string, i int) int {
	q := src[i]
	if delim := strings.Repeat(string(q), 3); strings.HasPrefix(src[i:], delim) {
		for j := i + 3; j < len(src); j++ {
			if src[j] == '\\' {
				j++
				continue
			}
			if strings.HasPrefix(src[j:], delim) {
				return j + 2
			}
		}
		return len(src) - 1
	}
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q:
			return j
		case '\n':
			return j - 1
		}
	}
	return len(src) - 1
}

// testModuleSource registers TestModuleName with its snapshot attribute set
// to payload, leaving no new names in __main__. Invalid UTF-8 in payload is
// replaced with U+FFFD.
func testModuleSource(payload string) string {
	var b strings.Builder
	b.WriteString("import sys as _memsnap_sys, types as _memsnap_types\n")
	fmt.Fprintf(&b, "_memsnap_mod = _memsnap_types.ModuleType(%s)\n", strconv.Quote(TestModuleName))
	fmt.Fprintf(&b, "_memsnap_mod.snapshot = %s\n", strconv.Quote(strings.ToValidUTF8(payload, "\uFFFD")))
	fmt.Fprintf(&b, "_memsnap_sys.modules[%s] = _memsnap_mod\n", strconv.Quote(TestModuleName))
	b.WriteString("del _memsnap_sys, _memsnap_types, _memsnap_mod\n")
	return b.String()
}
