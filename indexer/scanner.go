package indexer

import (
	"fmt"
	"path/filepath"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/spf13/afero"
)

// Scanner lists the source rasters of a directory. Sub-directories are not
// descended into.
type Scanner struct {
	Fs        afero.Fs
	Extension string
	pattern   *goeval.EvaluableExpression
}

// NewScanner compiles the optional filter expression. The expression may use
// the variables path and type ("f" for regular files), e.g.
// `path =~ "LC08_.*"`.
func NewScanner(fs afero.Fs, extension, filter string) (*Scanner, error) {
	expr, err := parsePatternExpression(filter)
	if err != nil {
		return nil, err
	}
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return &Scanner{Fs: fs, Extension: extension, pattern: expr}, nil
}

// FilenameToKey strips the directory and extension from a source path.
func FilenameToKey(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Listing is the result of a directory scan.
type Listing struct {
	// Sources maps every unambiguous key to its source file.
	Sources map[string]string
	// Conflicts holds keys claimed by more than one file, e.g. a.tif and a.TIF.
	// None of those files is cataloged until the clash is resolved.
	Conflicts map[string][]string
}

// Scan lists the sources of dir. Only an unreadable directory or a broken
// filter expression fails the whole scan.
func (sc *Scanner) Scan(dir string) (*Listing, error) {
	entries, err := afero.ReadDir(sc.Fs, dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	claims := make(map[string][]string, len(entries))
	for _, fi := range entries {
		if !fi.Mode().IsRegular() {
			continue
		}
		name := fi.Name()
		if sc.Extension != "" && !strings.EqualFold(filepath.Ext(name), sc.Extension) {
			continue
		}

		filePath := filepath.Join(dir, name)
		if sc.pattern != nil {
			ok, err := sc.evaluatePatternExpression(filePath)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		key := FilenameToKey(name)
		if key == "" {
			continue
		}
		claims[key] = append(claims[key], filePath)
	}

	listing := &Listing{
		Sources:   make(map[string]string, len(claims)),
		Conflicts: map[string][]string{},
	}
	for key, paths := range claims {
		if len(paths) > 1 {
			listing.Conflicts[key] = paths
			continue
		}
		listing.Sources[key] = paths[0]
	}
	return listing, nil
}

func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": struct{}{}, "type": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVariables)
			}
		}
	}
	return expr, nil
}

func (sc *Scanner) evaluatePatternExpression(filePath string) (bool, error) {
	parameters := map[string]interface{}{"type": "f", "path": filePath}
	result, err := sc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}
