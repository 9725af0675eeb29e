// Package workflow предоставляет именованные определения рабочих процессов,
// их реестр и Runner, управляющий запусками.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition определение рабочего процесса
type Definition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	// Timeout ограничивает длительность запуска, например "30s"
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Activity шаблон дерева активностей
	Activity any `yaml:"activity" json:"activity"`
	// Source файл, из которого загружено определение
	Source string `yaml:"-" json:"source,omitempty"`
}

// Validate проверяет определение
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	if d.Activity == nil {
		return fmt.Errorf("workflow %s: activity cannot be empty", d.Name)
	}
	if _, err := d.TimeoutDuration(); err != nil {
		return fmt.Errorf("workflow %s: %w", d.Name, err)
	}
	return nil
}

// TimeoutDuration возвращает ограничение длительности запуска (0 - без ограничения)
func (d *Definition) TimeoutDuration() (time.Duration, error) {
	if d.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", d.Timeout, err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("timeout cannot be negative")
	}
	return timeout, nil
}

// ParseDefinition разбирает определение в формате YAML или JSON по расширению файла
func ParseDefinition(data []byte, filename string) (*Definition, error) {
	var def Definition
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &def); err != nil {
			if err := yaml.Unmarshal(data, &def); err != nil {
				return nil, fmt.Errorf("parse definition: %w", err)
			}
		}
	}

	def.Source = filename
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition загружает определение из файла
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	def, err := ParseDefinition(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir загружает все определения (*.yaml, *.yml, *.json) из директории
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		def, err := LoadDefinition(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
