package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPARStage is the stage gated on document readiness unless overridden.
const DefaultPARStage = "Preauthorization (PAR)"

// Stage is one step of the referral workflow. Index is its position in the
// catalog and is assigned by the catalog, never read from configuration.
type Stage struct {
	Name         string `json:"stage"`
	Index        int    `json:"index"`
	RequiredDocs DocSet `json:"required_docs"`
	TargetDays   *int   `json:"target_days,omitempty"`
}

// stageEntry is the on-disk form of a catalog entry.
type stageEntry struct {
	Stage        string   `json:"stage" yaml:"stage"`
	RequiredDocs []string `json:"required_docs" yaml:"required_docs"`
	TargetDays   *int     `json:"target_days" yaml:"target_days"`
}

// Catalog is the immutable, ordered list of workflow stages.
type Catalog struct {
	stages []Stage
	index  map[string]int
}

// NewCatalog builds a catalog from stages in order. Index fields on the
// input are ignored and reassigned from position.
func NewCatalog(stages ...Stage) (*Catalog, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("workflow: stage catalog is empty")
	}
	c := &Catalog{
		stages: make([]Stage, len(stages)),
		index:  make(map[string]int, len(stages)),
	}
	for i, s := range stages {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("workflow: stage %d has no name", i)
		}
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("workflow: duplicate stage %q", name)
		}
		if s.TargetDays != nil && *s.TargetDays < 0 {
			return nil, fmt.Errorf("workflow: stage %q has negative target_days", name)
		}
		var target *int
		if s.TargetDays != nil {
			days := *s.TargetDays
			target = &days
		}
		c.stages[i] = Stage{Name: name, Index: i, RequiredDocs: s.RequiredDocs.Clone(), TargetDays: target}
		c.index[name] = i
	}
	return c, nil
}

// MustCatalog is NewCatalog for static stage lists; it panics on error.
func MustCatalog(stages ...Stage) *Catalog {
	c, err := NewCatalog(stages...)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCatalog decodes a catalog document. format is "json" or "yaml";
// an empty format sniffs JSON by a leading '['.
func ParseCatalog(data []byte, format string) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("workflow: catalog payload is empty")
	}
	if format == "" {
		format = "yaml"
		if trimmed[0] == '[' {
			format = "json"
		}
	}

	var entries []stageEntry
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("workflow: decode catalog json: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("workflow: decode catalog yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("workflow: unsupported catalog format %q", format)
	}

	stages := make([]Stage, len(entries))
	for i, e := range entries {
		stages[i] = Stage{
			Name:         e.Stage,
			RequiredDocs: DocSetFromStrings(e.RequiredDocs),
			TargetDays:   e.TargetDays,
		}
	}
	return NewCatalog(stages...)
}

// LoadCatalog reads a catalog file; the extension selects JSON or YAML.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read catalog %s: %w", path, err)
	}
	format := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	}
	c, err := ParseCatalog(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Stages returns a copy of the stages in catalog order.
func (c *Catalog) Stages() []Stage {
	out := make([]Stage, len(c.stages))
	for i, s := range c.stages {
		out[i] = s
		out[i].RequiredDocs = s.RequiredDocs.Clone()
	}
	return out
}

// Names returns stage names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return names
}

func (c *Catalog) Len() int { return len(c.stages) }

func (c *Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// IndexOf returns the 0-based position of name, or an *UnknownStageError.
func (c *Catalog) IndexOf(name string) (int, error) {
	i, ok := c.index[name]
	if !ok {
		return -1, &UnknownStageError{Name: name}
	}
	return i, nil
}

// ByName returns the stage called name, or an *UnknownStageError.
func (c *Catalog) ByName(name string) (Stage, error) {
	i, err := c.IndexOf(name)
	if err != nil {
		return Stage{}, err
	}
	s := c.stages[i]
	s.RequiredDocs = s.RequiredDocs.Clone()
	return s, nil
}

// First returns the entry stage of the workflow.
func (c *Catalog) First() Stage {
	s := c.stages[0]
	s.RequiredDocs = s.RequiredDocs.Clone()
	return s
}

// DocKeys returns every document key referenced by any stage.
func (c *Catalog) DocKeys() DocSet {
	out := make(DocSet)
	for _, s := range c.stages {
		out = out.Union(s.RequiredDocs)
	}
	return out
}
