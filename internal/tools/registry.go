package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// ExecutorFunc runs one tool invocation. params come from the model's
// directive; vars carry conversation context (contact id, phone, last
// message). Both are already merged by the registry before interpolation.
type ExecutorFunc func(ctx context.Context, params, vars map[string]string) (string, error)

type registered struct {
	def  Definition
	exec ExecutorFunc
}

// Registry holds the callable tools keyed by shortcode. Lookups try an
// exact match first, then fall back to normalized-shortcode comparison so
// a model writing "Notify Email" still resolves notify_email.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registered)}
}

func (r *Registry) Register(def Definition, exec ExecutorFunc) error {
	if def.Shortcode == "" {
		return fmt.Errorf("tools: shortcode is required")
	}
	if exec == nil {
		return fmt.Errorf("tools: executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Shortcode]; exists {
		return fmt.Errorf("tools: executor already registered for %s", def.Shortcode)
	}
	r.tools[def.Shortcode] = registered{def: def, exec: exec}
	return nil
}

func (r *Registry) MustRegister(def Definition, exec ExecutorFunc) {
	if err := r.Register(def, exec); err != nil {
		panic(err)
	}
}

// Resolve finds a tool by shortcode.
func (r *Registry) Resolve(shortcode string) (Definition, bool) {
	reg, ok := r.resolve(shortcode)
	return reg.def, ok
}

func (r *Registry) resolve(shortcode string) (registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.tools[shortcode]; ok {
		return reg, true
	}
	want := NormalizeShortcode(shortcode)
	for code, reg := range r.tools {
		if NormalizeShortcode(code) == want {
			return reg, true
		}
	}
	return registered{}, false
}

// Execute resolves and runs a tool. Context vars and directive params are
// merged with params winning on conflict.
func (r *Registry) Execute(ctx context.Context, shortcode string, params, vars map[string]string) (string, error) {
	reg, ok := r.resolve(shortcode)
	if !ok {
		return "", fmt.Errorf("tools: no tool registered for %q", shortcode)
	}
	return reg.exec(ctx, params, MergeVars(vars, params))
}

// Catalog returns all definitions for prompt construction, in no
// particular order.
func (r *Registry) Catalog() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.def)
	}
	return out
}

// NormalizeShortcode lowercases, maps runs of non-alphanumerics to a
// single underscore and trims the edges.
func NormalizeShortcode(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
