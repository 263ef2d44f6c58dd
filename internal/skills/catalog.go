// Package skills loads the skill definitions that drive prompt assembly.
// Definitions are YAML files on disk, one skill per file, and are read-only
// to the runtime.
package skills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/saleskit/ltc-backend/internal/domain"
)

type compiledSkill struct {
	def          domain.Skill
	paramSchemas map[string]*jsonschema.Schema
}

// Catalog holds the loaded skills. Reload swaps the whole set atomically, so
// readers never observe a half-loaded catalog.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]compiledSkill
}

func NewCatalog(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	return &Catalog{
		dir:    dir,
		logger: logger,
		skills: map[string]compiledSkill{},
	}
}

// Load reads every .yaml/.yml file in the catalog directory. A file that
// fails to parse or compile is skipped with a warning; one broken definition
// must not take down the rest of the catalog.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read skills dir %s: %w", c.dir, err)
	}

	loaded := make(map[string]compiledSkill, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		skill, err := loadSkillFile(path)
		if err != nil {
			c.logger.Warn("skipping skill definition", "file", entry.Name(), "error", err)
			continue
		}
		if _, dup := loaded[skill.def.Slug]; dup {
			c.logger.Warn("duplicate skill slug, keeping first", "slug", skill.def.Slug, "file", entry.Name())
			continue
		}
		loaded[skill.def.Slug] = skill
	}

	c.mu.Lock()
	c.skills = loaded
	c.mu.Unlock()

	c.logger.Info("skill catalog loaded", "dir", c.dir, "skills", len(loaded))
	return nil
}

func loadSkillFile(path string) (compiledSkill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return compiledSkill{}, fmt.Errorf("read: %w", err)
	}

	var def domain.Skill
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return compiledSkill{}, fmt.Errorf("parse yaml: %w", err)
	}
	if def.Slug == "" {
		return compiledSkill{}, fmt.Errorf("%w: missing slug", domain.ErrValidation)
	}
	if def.SystemPrompt == "" {
		return compiledSkill{}, fmt.Errorf("%w: skill %s has no system_prompt", domain.ErrValidation, def.Slug)
	}
	if def.Name == "" {
		def.Name = def.Slug
	}

	schemas := make(map[string]*jsonschema.Schema, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return compiledSkill{}, fmt.Errorf("%w: skill %s has a nameless parameter", domain.ErrValidation, def.Slug)
		}
		if p.Schema == nil {
			continue
		}
		schema, err := compileSchema(def.Slug, p.Name, p.Schema)
		if err != nil {
			return compiledSkill{}, err
		}
		schemas[p.Name] = schema
	}

	return compiledSkill{def: def, paramSchemas: schemas}, nil
}

func compileSchema(slug, param string, fragment map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(fragment)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s.%s: %w", slug, param, err)
	}

	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// compiler requires
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema for %s.%s: %w", slug, param, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("%s-%s.json", slug, param)
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s.%s: %w", slug, param, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s.%s: %w", slug, param, err)
	}
	return schema, nil
}

// Get returns one skill by slug.
func (c *Catalog) Get(slug string) (domain.Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	skill, ok := c.skills[slug]
	if !ok {
		return domain.Skill{}, domain.ErrSkillNotFound
	}
	return skill.def, nil
}

// List returns all skills sorted by slug.
func (c *Catalog) List() []domain.Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// ValidateParams checks a run's parameters against the skill definition:
// required parameters must be present, and any parameter carrying a schema
// must satisfy it. Unknown parameters are rejected.
func (c *Catalog) ValidateParams(slug string, params map[string]any) error {
	c.mu.RLock()
	skill, ok := c.skills[slug]
	c.mu.RUnlock()
	if !ok {
		return domain.ErrSkillNotFound
	}

	known := make(map[string]domain.SkillParameter, len(skill.def.Parameters))
	for _, p := range skill.def.Parameters {
		known[p.Name] = p
		if p.Required {
			if _, present := params[p.Name]; !present {
				return fmt.Errorf("%w: missing required parameter %q", domain.ErrValidation, p.Name)
			}
		}
	}

	for name, value := range params {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: unknown parameter %q", domain.ErrValidation, name)
		}
		schema, ok := skill.paramSchemas[name]
		if !ok {
			continue
		}
		normalized, err := normalizeValue(value)
		if err != nil {
			return fmt.Errorf("%w: parameter %q: %v", domain.ErrValidation, name, err)
		}
		if err := schema.Validate(normalized); err != nil {
			return fmt.Errorf("%w: parameter %q: %v", domain.ErrValidation, name, err)
		}
	}
	return nil
}

// normalizeValue round-trips through jsonschema's decoder so numbers carry
// the json.Number representation the validator expects.
func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
