package tools

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// GlobTool finds files under a directory matching a glob pattern.
type GlobTool struct{}

func NewGlobTool() *GlobTool { return &GlobTool{} }

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Tier() int    { return TierReadOnly }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (supports * and **) under a directory. Results are sorted for deterministic ordering."
}

func (t *GlobTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern, e.g. \"**/*.go\" or \"internal/*/service.go\"",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search from (default: current directory)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	pattern := GetString(params, "pattern", "")
	if pattern == "" {
		return "Error: pattern is required", nil
	}
	base := expandPath(GetString(params, "path", "."))

	info, err := os.Stat(base)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: directory not found: %s", base), nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: not a directory: %s", base), nil
	}

	re, err := globToRegexp(pattern)
	if err != nil {
		return fmt.Sprintf("Error: invalid pattern: %v", err), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if re.MatchString(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Sprintf("Error walking %s: %v", base, walkErr), nil
	}

	sort.Strings(matches)
	if len(matches) == 0 {
		return "No files matched.", nil
	}
	return strings.Join(matches, "\n"), nil
}

// globToRegexp translates a glob pattern into an anchored regexp. "**"
// matches across directory separators, a lone "*" stops at "/", and "?"
// matches a single non-separator rune.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
			b.WriteRune(runes[i])
		default:
			b.WriteRune(runes[i])
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// GrepTool searches file contents under a directory for a regular expression.
type GrepTool struct{}

func NewGrepTool() *GrepTool { return &GrepTool{} }

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Tier() int    { return TierReadOnly }

func (t *GrepTool) Description() string {
	return "Search file contents under a directory for a regular expression, returning matching lines with their file and line number."
}

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search from (default: current directory)",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Restrict the search to files matching this glob pattern",
			},
			"case_insensitive": map[string]any{
				"type":        "boolean",
				"description": "Match case-insensitively (default: false)",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Cap on the number of matching lines returned (default: 200)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	pattern := GetString(params, "pattern", "")
	if pattern == "" {
		return "Error: pattern is required", nil
	}
	base := expandPath(GetString(params, "path", "."))
	globPattern := GetString(params, "glob", "")
	caseInsensitive := GetBool(params, "case_insensitive", false)
	maxResults := GetInt(params, "max_results", 200)
	if maxResults <= 0 {
		maxResults = 200
	}

	exprSrc := pattern
	if caseInsensitive {
		exprSrc = "(?i)" + exprSrc
	}
	re, err := regexp.Compile(exprSrc)
	if err != nil {
		return fmt.Sprintf("Error: invalid pattern: %v", err), nil
	}

	var fileFilter *regexp.Regexp
	if globPattern != "" {
		fileFilter, err = globToRegexp(globPattern)
		if err != nil {
			return fmt.Sprintf("Error: invalid glob: %v", err), nil
		}
	}

	type hit struct {
		path string
		line int
		text string
	}
	var hits []hit
	truncated := false

	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			if d != nil && d.IsDir() && d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(hits) >= maxResults {
			truncated = true
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if fileFilter != nil && !fileFilter.MatchString(rel) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if bytes.IndexByte(content, 0) != -1 {
			return nil // skip binaries
		}
		for i, line := range strings.Split(string(content), "\n") {
			if len(hits) >= maxResults {
				truncated = true
				break
			}
			if re.MatchString(line) {
				hits = append(hits, hit{path: rel, line: i + 1, text: line})
			}
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Sprintf("Error walking %s: %v", base, walkErr), nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].path != hits[j].path {
			return hits[i].path < hits[j].path
		}
		return hits[i].line < hits[j].line
	})

	if len(hits) == 0 {
		return "No matches found.", nil
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s:%d:%s\n", h.path, h.line, h.text)
	}
	if truncated {
		fmt.Fprintf(&b, "... results truncated at %d matches\n", maxResults)
	}
	return b.String(), nil
}
