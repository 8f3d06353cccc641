package scenario

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load parses a scenario set from YAML.
func Load(yamlConfig []byte) (Set, error) {
	set := Set{}
	if err := yaml.Unmarshal(yamlConfig, &set); err != nil {
		return Set{}, fmt.Errorf("scenario load: %w", err)
	}
	return set, nil
}

// LoadFile parses a scenario set from a YAML file. An unnamed set takes the
// file's base name.
func LoadFile(path string) (Set, error) {
	yamlConfig, err := ioutil.ReadFile(path)
	if err != nil {
		return Set{}, err
	}
	set, err := Load(yamlConfig)
	if err != nil {
		return Set{}, fmt.Errorf("%v: %w", path, err)
	}
	if set.Name == "" {
		base := filepath.Base(path)
		set.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return set, nil
}

// LoadDir parses every .yaml/.yml file in a directory, in lexical order.
func LoadDir(dir string) ([]Set, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	sets := make([]Set, 0, len(paths))
	for _, path := range paths {
		set, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}
