package model

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadReformFile reads a full reform manifest from a YAML file:
//
//	id: sc-h4216
//	state: SC
//	label: Income tax flattening
//	params:
//	  gov.states.sc.tax.income.rate:
//	    "2026": 0.05
func LoadReformFile(path string) (*Reform, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read %s", path)
	}
	var reform Reform
	if err := yaml.Unmarshal(raw, &reform); err != nil {
		return nil, eris.Wrapf(err, "model: parse %s", path)
	}
	if reform.ID == "" {
		return nil, eris.Errorf("model: %s: reform id is required", path)
	}
	if reform.State == "" {
		return nil, eris.Errorf("model: %s: reform state is required", path)
	}
	if err := reform.Params.Validate(); err != nil {
		return nil, eris.Wrapf(err, "model: %s", path)
	}
	return &reform, nil
}

// LoadReformsDir loads every .yaml/.yml manifest in dir, sorted by filename.
// Any single bad manifest fails the whole load: a partial import would leave
// the tracked set in an ambiguous state.
func LoadReformsDir(dir string) ([]Reform, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read reforms dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	reforms := make([]Reform, 0, len(paths))
	for _, p := range paths {
		r, err := LoadReformFile(p)
		if err != nil {
			return nil, err
		}
		reforms = append(reforms, *r)
	}
	return reforms, nil
}
