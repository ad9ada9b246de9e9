package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/phasetrace/internal/config"
)

// Target is one run found under a dataset root.
type Target struct {
	Experiment  string
	Name        string
	HostDir     string
	ResolverDir string
}

// Input returns the run's file paths.
func (t Target) Input(cfg *config.Config) RunInput {
	return InputFromDirs(t.HostDir, t.ResolverDir, cfg)
}

// OutputDir returns <root>/<experiment>/<run>.
func (t Target) OutputDir(root string) string {
	return filepath.Join(root, t.Experiment, t.Name)
}

// Discover lists every <root>/<experiment>/host/<run> directory paired
// with its <root>/<experiment>/resolver/<run> sibling, ordered by
// experiment then run. The resolver directory is not required to exist;
// Run reports the missing files.
func Discover(root string) ([]Target, error) {
	hostDirs, err := filepath.Glob(filepath.Join(root, "*", "host", "*"))
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}

	targets := []Target{}
	for _, dir := range hostDirs {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		if !info.IsDir() {
			continue
		}
		expDir := filepath.Dir(filepath.Dir(dir))
		name := filepath.Base(dir)
		targets = append(targets, Target{
			Experiment:  filepath.Base(expDir),
			Name:        name,
			HostDir:     dir,
			ResolverDir: filepath.Join(expDir, "resolver", name),
		})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Experiment != targets[j].Experiment {
			return targets[i].Experiment < targets[j].Experiment
		}
		return targets[i].Name < targets[j].Name
	})
	return targets, nil
}
