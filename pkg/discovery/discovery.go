// Package discovery finds candidate script files under a project root.
package discovery

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Script is one discovered script file.
type Script struct {
	// Identity is the path relative to the root, slash-separated.
	Identity string
	// Path is the absolute file path.
	Path string
}

// Discover walks root and returns the script files it contains, sorted by
// identity. Ignore patterns are glob expressions matched against identities
// ("staging/*.go", "**_draft.go"). Hidden directories and test files are
// always skipped.
func Discover(root string, ignorePatterns []string, logger *zap.Logger) ([]Script, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	ignores := make([]glob.Glob, 0, len(ignorePatterns))
	for _, pattern := range ignorePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", pattern, err)
		}
		ignores = append(ignores, g)
	}

	var scripts []Script
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != absRoot && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		identity := filepath.ToSlash(rel)

		for _, g := range ignores {
			if g.Match(identity) {
				logger.Debug("script ignored",
					zap.String("identity", identity))
				return nil
			}
		}

		scripts = append(scripts, Script{Identity: identity, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, err)
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Identity < scripts[j].Identity })

	logger.Info("discovery complete",
		zap.String("root", absRoot),
		zap.Int("scripts", len(scripts)))
	return scripts, nil
}
