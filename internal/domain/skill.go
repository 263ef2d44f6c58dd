package domain

// SkillParameter declares one input a skill accepts. Schema holds an
// optional JSON-Schema fragment for the value.
type SkillParameter struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Required    bool           `json:"required" yaml:"required"`
	Schema      map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Skill is a static prompt template loaded from a definition file. Read-only
// to the runtime.
type Skill struct {
	Slug              string           `json:"slug" yaml:"slug"`
	Name              string           `json:"name" yaml:"name"`
	SystemPrompt      string           `json:"system_prompt" yaml:"system_prompt"`
	Parameters        []SkillParameter `json:"parameters" yaml:"parameters"`
	SupportsMultiTurn bool             `json:"supports_multi_turn" yaml:"supports_multi_turn"`
}
