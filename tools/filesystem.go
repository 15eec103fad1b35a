package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/ponder/config"
	"github.com/m4xw311/ponder/errors"
)

const (
	maxListEntries   = 500
	maxSearchMatches = 200
)

func stringArg(input map[string]any, name string) (string, error) {
	v, ok := input[name].(string)
	if !ok {
		return "", errors.New("missing or invalid '%s' argument", name)
	}
	return v, nil
}

func optionalStringArg(input map[string]any, name, fallback string) string {
	if v, ok := input[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// checkAccess rejects hidden paths, and read-only paths when writing.
func checkAccess(fsAccess *config.FilesystemAccess, path string, write bool) error {
	hidden, err := isPathRestricted(path, fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	if !write {
		return nil
	}
	readOnly, err := isPathRestricted(path, fsAccess.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file."
}
func (t *ReadFileTool) InputSchema() map[string]any {
	return objectSchema([]string{"path"}, map[string]map[string]any{
		"path": stringProp("Path of the file to read, relative to the working directory."),
	})
}

func (t *ReadFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	path, err := stringArg(input, "path")
	if err != nil {
		return "", err
	}
	if err := checkAccess(t.fsAccess, path, false); err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// ListFilesTool lists files matching a doublestar glob.
type ListFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "Lists files matching a glob pattern such as '**/*.go'. Defaults to the top-level entries of the working directory."
}
func (t *ListFilesTool) InputSchema() map[string]any {
	return objectSchema(nil, map[string]map[string]any{
		"pattern": stringProp("Glob pattern; ** matches any number of directories."),
	})
}

func (t *ListFilesTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	pattern := optionalStringArg(input, "pattern", "*")
	matches, err := visibleGlob(t.fsAccess, pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No files match '%s'.", pattern), nil
	}
	truncated := len(matches) > maxListEntries
	if truncated {
		matches = matches[:maxListEntries]
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (truncated to %d entries)", maxListEntries)
	}
	return out, nil
}

// visibleGlob returns the sorted paths matching pattern, minus hidden ones.
func visibleGlob(fsAccess *config.FilesystemAccess, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(pattern, "./")
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.New("invalid glob pattern '%s'", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS("."), pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to match '%s'", pattern)
	}
	var visible []string
	for _, m := range matches {
		hidden, err := isPathRestricted(m, fsAccess.Hidden)
		if err != nil {
			return nil, err
		}
		if !hidden {
			visible = append(visible, m)
		}
	}
	sort.Strings(visible)
	return visible, nil
}

// SearchFilesTool searches file contents with a regular expression.
type SearchFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Searches the contents of files matching a glob pattern for a regular expression. Returns path:line: text for each match."
}
func (t *SearchFilesTool) InputSchema() map[string]any {
	return objectSchema([]string{"regex"}, map[string]map[string]any{
		"regex":   stringProp("RE2 regular expression to search for."),
		"pattern": stringProp("Glob pattern selecting files to search. Defaults to '**/*'."),
	})
}

func (t *SearchFilesTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	expr, err := stringArg(input, "regex")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid regex '%s'", expr)
	}
	files, err := visibleGlob(t.fsAccess, optionalStringArg(input, "pattern", "**/*"))
	if err != nil {
		return "", err
	}

	var results []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		found, err := searchFile(path, re, maxSearchMatches-len(results))
		if err != nil {
			continue
		}
		results = append(results, found...)
		if len(results) >= maxSearchMatches {
			results = append(results, fmt.Sprintf("... (stopped after %d matches)", maxSearchMatches))
			break
		}
	}
	if len(results) == 0 {
		return "No matches found.", nil
	}
	return strings.Join(results, "\n"), nil
}

func searchFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() && len(out) < limit {
		line++
		if text := scanner.Text(); re.MatchString(text) {
			out = append(out, fmt.Sprintf("%s:%d: %s", path, line, text))
		}
	}
	return out, scanner.Err()
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Parent directories are created."
}
func (t *WriteFileTool) InputSchema() map[string]any {
	return objectSchema([]string{"path", "content"}, map[string]map[string]any{
		"path":    stringProp("Path of the file to write."),
		"content": stringProp("Complete new file content."),
	})
}

func (t *WriteFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	path, err := stringArg(input, "path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(input, "content")
	if err != nil {
		return "", err
	}
	if err := checkAccess(t.fsAccess, path, true); err != nil {
		return "", err
	}
	if err := writeFile(path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces one exact occurrence of a string in a file, or
// creates the file when old_string is empty and the file does not exist.
type EditFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replaces exactly one occurrence of old_string with new_string in a file. With an empty old_string, creates a new file containing new_string."
}
func (t *EditFileTool) InputSchema() map[string]any {
	return objectSchema([]string{"path", "old_string", "new_string"}, map[string]map[string]any{
		"path":       stringProp("Path of the file to edit."),
		"old_string": stringProp("Exact text to replace; must occur exactly once."),
		"new_string": stringProp("Replacement text."),
	})
}

func (t *EditFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	path, err := stringArg(input, "path")
	if err != nil {
		return "", err
	}
	oldString := optionalStringArg(input, "old_string", "")
	newString, err := stringArg(input, "new_string")
	if err != nil {
		return "", err
	}
	if err := checkAccess(t.fsAccess, path, true); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if oldString != "" {
			return "", errors.New("file '%s' does not exist", path)
		}
		if err := writeFile(path, newString); err != nil {
			return "", err
		}
		return fmt.Sprintf("Created %s", path), nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	if oldString == "" {
		return "", errors.New("file '%s' already exists; provide old_string to edit it", path)
	}

	content := string(data)
	switch n := strings.Count(content, oldString); n {
	case 0:
		return "", errors.New("old_string not found in '%s'", path)
	case 1:
	default:
		return "", errors.New("old_string occurs %d times in '%s'; add context to make it unique", n, path)
	}
	if err := writeFile(path, strings.Replace(content, oldString, newString, 1)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Edited %s", path), nil
}

func writeFile(path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory '%s'", dir)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return nil
}
