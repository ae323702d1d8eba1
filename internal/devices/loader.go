package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevinKickass/BragerSync/internal/types"
	"gopkg.in/yaml.v3"
)

var profileExtensions = []string{".json", ".yaml", ".yml"}

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds <name>.json, <name>.yaml or <name>.yml in the search paths,
// validates it against the profile schema and caches the result.
func (l *ProfileLoader) Load(name string) (*types.DeviceProfileDefinition, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.DeviceProfileDefinition), nil
	}

	data, foundPath, err := l.find(name)
	if err != nil {
		return nil, err
	}

	if ext := filepath.Ext(foundPath); ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", foundPath, err)
		}
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var profile types.DeviceProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	l.cache.Store(name, &profile)

	return &profile, nil
}

func (l *ProfileLoader) find(name string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		for _, ext := range profileExtensions {
			fullPath := filepath.Join(searchPath, name+ext)
			data, err := os.ReadFile(fullPath)
			if err == nil {
				return data, fullPath, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, "", fmt.Errorf("failed to read %s: %w", fullPath, err)
			}
		}
	}
	return nil, "", fmt.Errorf("profile not found: %s (searched in: %v)", name, l.searchPaths)
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
