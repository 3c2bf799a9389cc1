// Package template holds notification templates and renders them with
// simple {token} substitution.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// Template is a named message template. Subject and Body may contain
// {token} placeholders replaced at render time.
type Template struct {
	Name     string
	Subject  string
	Body     string
	Category string
}

// NotFoundError is returned when a template name is not registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("template not found: %s", e.Name)
}

// Store is an in-memory template collection safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewStore creates a store preloaded with the given templates. Later
// templates with the same name replace earlier ones.
func NewStore(templates ...Template) *Store {
	s := &Store{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		s.templates[t.Name] = t
	}
	return s
}

// Put adds or replaces a template.
func (s *Store) Put(t Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Name] = t
}

// Get returns the template with the given name.
func (s *Store) Get(name string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return Template{}, &NotFoundError{Name: name}
	}
	return t, nil
}

// List returns all templates sorted by name.
func (s *Store) List() []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Render substitutes {token} placeholders in the named template's
// subject and body using data. Tokens without a matching key are left
// in place so missing context is visible in the output.
func (s *Store) Render(name string, data map[string]string) (subject, body string, err error) {
	t, err := s.Get(name)
	if err != nil {
		return "", "", err
	}
	return substitute(t.Subject, data), substitute(t.Body, data), nil
}

func substitute(text string, data map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		if val, ok := data[key]; ok {
			return val
		}
		return match
	})
}
