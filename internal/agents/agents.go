// Package agents provides the static lookup from agent id to behavior
// configuration. The registry is built once at startup and never mutated;
// lookups are side-effect free and never fail — unknown ids resolve to the
// built-in general agent.
package agents

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultAgentID is the fallback agent for unknown or absent agent ids.
const DefaultAgentID = "general"

// Config is one agent's immutable behavior profile.
type Config struct {
	ID                string  `json:"id"`
	SystemPrompt      string  `json:"system_prompt"`
	DefaultVoice      string  `json:"default_voice"`
	MaxReplyTokens    int     `json:"max_reply_tokens"`
	DailyQuotaSeconds float64 `json:"daily_quota_seconds"`
}

// Registry resolves agent ids to configurations.
type Registry struct {
	agents map[string]Config
	order  []string
}

// builtins are the agents shipped with the gateway. Deployments extend or
// override them via a JSON file (see LoadFile).
func builtins() []Config {
	return []Config{
		{
			ID:                "general",
			SystemPrompt:      "You are a helpful voice assistant. Keep replies short and conversational — they will be read aloud.",
			DefaultVoice:      "alloy",
			MaxReplyTokens:    256,
			DailyQuotaSeconds: 600,
		},
		{
			ID:                "specialist",
			SystemPrompt:      "You are a subject-matter specialist. Answer precisely, but keep replies brief enough to be spoken.",
			DefaultVoice:      "onyx",
			MaxReplyTokens:    512,
			DailyQuotaSeconds: 900,
		},
	}
}

// New creates a registry from the built-in agents plus any extras.
// Extras with an existing id override the built-in definition.
func New(extras ...Config) *Registry {
	r := &Registry{agents: make(map[string]Config)}
	for _, c := range builtins() {
		r.add(c)
	}
	for _, c := range extras {
		r.add(c)
	}
	return r
}

// LoadFile creates a registry from built-ins merged with agent definitions
// in a JSON file (an array of Config objects). An empty path returns the
// built-in registry.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return New(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agents: read %s: %w", path, err)
	}
	var extras []Config
	if err := json.Unmarshal(raw, &extras); err != nil {
		return nil, fmt.Errorf("agents: parse %s: %w", path, err)
	}
	for i, c := range extras {
		if c.ID == "" {
			return nil, fmt.Errorf("agents: entry %d has no id", i)
		}
		if c.DailyQuotaSeconds <= 0 {
			return nil, fmt.Errorf("agents: agent %q: daily_quota_seconds must be positive", c.ID)
		}
	}
	return New(extras...), nil
}

func (r *Registry) add(c Config) {
	if _, exists := r.agents[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.agents[c.ID] = c
}

// Resolve returns the configuration for agentID, falling back to the general
// agent when the id is unknown or empty.
func (r *Registry) Resolve(agentID string) Config {
	if c, ok := r.agents[agentID]; ok {
		return c
	}
	return r.agents[DefaultAgentID]
}

// All returns every known agent in registration order.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}
