// Package styles resolves art style ids to generation prompts.
package styles

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"canvaspreview/internal/domain"
)

// Tier marks a style as part of the standard or premium catalogue. It is
// informational and does not gate generation.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Style is one registered art style.
type Style struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Prompt string `json:"prompt"`
	Tier   Tier   `json:"tier,omitempty"`
}

// Resolved is what the orchestrator submits.
type Resolved struct {
	Prompt string
	Tier   Tier
}

// Registry is safe for concurrent reads after construction.
type Registry struct {
	mu     sync.RWMutex
	styles map[string]Style
}

// NewRegistry returns a registry holding the built-in catalogue.
func NewRegistry() *Registry {
	r := &Registry{styles: make(map[string]Style, len(builtin))}
	for _, s := range builtin {
		r.styles[s.ID] = s
	}
	return r
}

// LoadFile merges styles from a JSON array file, overriding built-ins with the
// same id.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("styles: read %s: %w", path, err)
	}
	var items []Style
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("styles: decode %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range items {
		s.ID = normalizeID(s.ID)
		s.Prompt = strings.TrimSpace(s.Prompt)
		if s.ID == "" || s.Prompt == "" {
			return fmt.Errorf("styles: entry %d needs id and prompt", i)
		}
		if s.Tier == "" {
			s.Tier = TierStandard
		}
		r.styles[s.ID] = s
	}
	return nil
}

// Resolve returns the prompt and tier for id, or domain.ErrUnknownStyle.
func (r *Registry) Resolve(id string) (Resolved, error) {
	r.mu.RLock()
	s, ok := r.styles[normalizeID(id)]
	r.mu.RUnlock()
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %q", domain.ErrUnknownStyle, id)
	}
	return Resolved{Prompt: s.Prompt, Tier: s.Tier}, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, err := r.Resolve(id)
	return err == nil
}

// List returns every style sorted by id with a display name filled in.
func (r *Registry) List() []Style {
	caser := cases.Title(language.English)
	r.mu.RLock()
	out := make([]Style, 0, len(r.styles))
	for _, s := range r.styles {
		if s.Name == "" {
			s.Name = caser.String(strings.ReplaceAll(s.ID, "-", " "))
		}
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

var builtin = []Style{
	{
		ID:     "classic-oil-painting",
		Prompt: "Transform this photo into a classic oil painting with rich, layered brushstrokes, warm Old Master lighting and a subtle canvas texture.",
		Tier:   TierStandard,
	},
	{
		ID:     "watercolor-dreams",
		Prompt: "Transform this photo into a soft watercolor painting with translucent washes, gentle color bleeds and visible paper grain.",
		Tier:   TierStandard,
	},
	{
		ID:     "pop-art-burst",
		Prompt: "Transform this photo into bold pop art with flat saturated colors, thick black outlines and halftone dot shading.",
		Tier:   TierStandard,
	},
	{
		ID:     "charcoal-sketch",
		Prompt: "Transform this photo into an expressive charcoal sketch on textured paper with smudged shading and confident line work.",
		Tier:   TierStandard,
	},
	{
		ID:     "pastel-bliss",
		Prompt: "Transform this photo into a dreamy pastel drawing with soft chalky strokes and a light, airy palette.",
		Tier:   TierStandard,
	},
	{
		ID:     "modern-abstract",
		Prompt: "Transform this photo into a modern abstract portrait built from geometric color fields while keeping the subject recognizable.",
		Tier:   TierPremium,
	},
	{
		ID:     "vintage-poster",
		Prompt: "Transform this photo into a mid-century travel poster with limited screen-print colors and clean graphic shapes.",
		Tier:   TierPremium,
	},
	{
		ID:     "neon-nights",
		Prompt: "Transform this photo into a vibrant neon artwork with glowing rim light, deep shadows and electric magenta and cyan accents.",
		Tier:   TierPremium,
	},
}
