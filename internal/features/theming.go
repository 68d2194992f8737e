package features

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modreg"
)

// Tokens maps design token names to values.
type Tokens map[string]string

var builtinThemes = map[string]Tokens{
	"harbour": {"color.primary": "#0b4f6c", "color.surface": "#f4f7f9", "font.body": "Inter"},
	"night":   {"color.primary": "#8ab4f8", "color.surface": "#121212", "font.body": "Inter"},
}

// Theming provides named token sets.
type Theming struct {
	modreg.BaseModule

	mu           sync.RWMutex
	defaultTheme string
	tokensPath   string
	themes       map[string]Tokens
}

func NewTheming() *Theming { return &Theming{} }

func (t *Theming) Manifest() modreg.Manifest {
	return modreg.Manifest{
		Key:          "theming",
		Version:      "1.2.0",
		Capabilities: []string{CapabilityTheme},
		ConfigSchema: modreg.ConfigSchema{Fields: []modreg.FieldSpec{
			{Name: "default_theme", Type: modreg.FieldString, Required: true, Description: "Theme served when none is requested"},
			{Name: "tokens_path", Type: modreg.FieldString, Description: "YAML file with additional themes"},
		}},
	}
}

func (t *Theming) Configure(_ context.Context, cfg modreg.Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultTheme = cfg.String("default_theme", "")
	t.tokensPath = cfg.String("tokens_path", "")
	return nil
}

// Initialize loads built-in themes plus the optional token file and checks
// that the default theme exists.
func (t *Theming) Initialize(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	themes := make(map[string]Tokens, len(builtinThemes))
	for name, tokens := range builtinThemes {
		themes[name] = maps.Clone(tokens)
	}
	if t.tokensPath != "" {
		data, err := os.ReadFile(t.tokensPath)
		if err != nil {
			return fmt.Errorf("read theme tokens: %w", err)
		}
		var extra map[string]Tokens
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return fmt.Errorf("parse theme tokens %s: %w", t.tokensPath, err)
		}
		for name, tokens := range extra {
			themes[name] = tokens
		}
	}
	if _, ok := themes[t.defaultTheme]; !ok {
		return fmt.Errorf("default theme %q is not defined", t.defaultTheme)
	}
	t.themes = themes
	return nil
}

func (t *Theming) Theme(name string) (Tokens, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if name == "" {
		name = t.defaultTheme
	}
	tokens, ok := t.themes[name]
	if !ok {
		return nil, false
	}
	return maps.Clone(tokens), true
}

func (t *Theming) DefaultTheme() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.defaultTheme
}
