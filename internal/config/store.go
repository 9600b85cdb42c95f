// Package config loads parameter trees from directories of YAML files and
// resolves ${path.to.value} references between them.
//
// Each file contributes one tree keyed by its file stem, so a value in
// storage/machines.yaml is addressed as machines.<key>. References may cross
// files and nest (a referenced value may itself contain references); cycles
// are detected and left unresolved with a warning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/blocksrun/blocks/internal/errors"
	"github.com/blocksrun/blocks/internal/logger"
	"github.com/spf13/viper"
)

// maxInterpolationPasses bounds the fixed-point iteration that resolves
// forward references between trees.
const maxInterpolationPasses = 10

// refPattern matches ${path.to.value} reference spans.
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Store holds the loaded parameter trees and answers path lookups and
// reference interpolation. Trees are rebuilt from disk on every Load/Reload
// and are never mutated between reloads.
type Store struct {
	dirs   []string
	trees  map[string]interface{}
	log    logger.Logger
	warned map[string]bool // cycle paths already warned about this load
}

// New creates a store reading from the given directories. Call Load before
// first use.
func New(log logger.Logger, dirs ...string) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		dirs:   dirs,
		trees:  make(map[string]interface{}),
		log:    log,
		warned: make(map[string]bool),
	}
}

// Load reads every *.yaml and *.yml file from the configured directories and
// resolves references. A missing directory is a warning, not an error: the
// store continues with whatever trees it found.
func (s *Store) Load() {
	s.trees = make(map[string]interface{})
	s.warned = make(map[string]bool)

	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); err != nil {
			s.log.Warn("parameter directory %q not found", dir)
			continue
		}
		s.loadDir(dir)
	}

	s.resolveAll()
}

// Reload clears the trees and re-reads everything from disk, re-running
// interpolation. Called by the orchestrator after each block so that files
// edited mid-run take effect.
func (s *Store) Reload() {
	s.Load()
}

// loadDir parses every YAML file in dir, keyed by file stem.
func (s *Store) loadDir(dir string) {
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		paths, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, path := range paths {
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

			v := viper.New()
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				s.log.Warn("skipping %s: %v", path, err)
				continue
			}
			s.trees[stem] = normalize(v.AllSettings())
		}
	}
}

// normalize converts viper's map[string]interface{} trees into plain nested
// maps and slices so the interpolation walk sees a uniform shape.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// Get resolves a dot-separated path like "machines.web.ip" to its value.
// Path segments are matched case-insensitively because viper normalizes keys
// to lower case on load.
func (s *Store) Get(path string) (interface{}, error) {
	var current interface{} = s.trees

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("configuration path %q not found", path), "")
		}
		next, ok := m[strings.ToLower(part)]
		if !ok {
			// Top-level trees keep their original stem casing.
			next, ok = m[part]
			if !ok {
				return nil, errors.New(errors.ErrConfig,
					fmt.Sprintf("configuration path %q not found", path), "")
			}
		}
		current = next
	}

	return current, nil
}

// GetList resolves a path and asserts it references a list.
func (s *Store) GetList(path string) ([]interface{}, error) {
	value, err := s.Get(path)
	if err != nil {
		return nil, err
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, errors.New(errors.ErrLoop,
			fmt.Sprintf("%q does not reference a list", path),
			"Point 'in' at a YAML sequence in a parameter file.")
	}
	return list, nil
}

// Interpolate replaces every ${path} reference in text with the stringified
// value at that path. Unresolved references are left verbatim with a warning.
func (s *Store) Interpolate(text string) string {
	return refPattern.ReplaceAllStringFunc(text, func(span string) string {
		path := span[2 : len(span)-1]
		value, err := s.Get(path)
		if err != nil {
			s.log.Warn("unresolved reference %s", span)
			return span
		}
		return fmt.Sprint(value)
	})
}

// resolveAll runs interpolation passes over the loaded trees until a pass
// produces no change, bounded by maxInterpolationPasses so unresolvable
// forward chains cannot loop forever.
func (s *Store) resolveAll() {
	for pass := 0; pass < maxInterpolationPasses; pass++ {
		changed := false
		resolved := s.resolveValue(s.trees, map[string]bool{}, &changed)
		s.trees = resolved.(map[string]interface{})
		if !changed {
			break
		}
	}
}

// resolveValue walks a tree, interpolating references inside string scalars.
// The stack tracks reference paths currently being resolved on this branch so
// that cycles are skipped instead of recursed into.
func (s *Store) resolveValue(value interface{}, stack map[string]bool, changed *bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = s.resolveValue(val, stack, changed)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = s.resolveValue(val, stack, changed)
		}
		return out
	case string:
		return s.resolveString(v, stack, changed)
	default:
		return v
	}
}

// resolveString substitutes each ${path} span in one string value.
func (s *Store) resolveString(text string, stack map[string]bool, changed *bool) string {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return text
	}

	result := text
	for _, match := range matches {
		span, path := match[0], match[1]

		if stack[path] {
			if !s.warned[path] {
				s.warned[path] = true
				s.log.Warn("circular reference detected for %q", path)
			}
			continue
		}

		value, err := s.Get(path)
		if err != nil {
			// Leave the span in place; a later pass may resolve it once the
			// referenced tree has itself been interpolated.
			continue
		}

		if str, ok := value.(string); ok && refPattern.MatchString(str) {
			next := copyStack(stack)
			next[path] = true
			value = s.resolveString(str, next, changed)
		}

		replacement := fmt.Sprint(value)
		if replacement != span {
			result = strings.ReplaceAll(result, span, replacement)
			*changed = true
		}
	}

	return result
}

func copyStack(stack map[string]bool) map[string]bool {
	out := make(map[string]bool, len(stack)+1)
	for k := range stack {
		out[k] = true
	}
	return out
}
