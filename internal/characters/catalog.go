// Package characters holds the read-only persona catalog the bot speaks as.
package characters

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("character not found")

// Character is an immutable voice profile.
type Character struct {
	ID      string `json:"id" yaml:"id"`
	Label   string `json:"label" yaml:"label"`
	Persona string `json:"persona" yaml:"persona"`
	Avatar  string `json:"avatar,omitempty" yaml:"avatar"`
}

// Catalog is safe for concurrent reads; it is never mutated after
// construction.
type Catalog struct {
	order []string
	byID  map[string]Character
}

type fileFormat struct {
	Characters []Character `yaml:"characters"`
}

// NewCatalog validates list and builds a catalog. IDs must be unique and
// non-empty; a missing label is derived from the ID.
func NewCatalog(list []Character) (*Catalog, error) {
	if len(list) == 0 {
		return nil, errors.New("character catalog is empty")
	}
	title := cases.Title(language.English)
	c := &Catalog{byID: make(map[string]Character, len(list))}
	for i, ch := range list {
		ch.ID = strings.TrimSpace(ch.ID)
		ch.Label = strings.TrimSpace(ch.Label)
		ch.Persona = strings.TrimSpace(ch.Persona)
		ch.Avatar = strings.TrimSpace(ch.Avatar)
		if ch.ID == "" {
			return nil, fmt.Errorf("character %d: id is required", i)
		}
		if _, dup := c.byID[ch.ID]; dup {
			return nil, fmt.Errorf("character %q: duplicate id", ch.ID)
		}
		if ch.Persona == "" {
			return nil, fmt.Errorf("character %q: persona is required", ch.ID)
		}
		if ch.Label == "" {
			ch.Label = title.String(strings.NewReplacer("-", " ", "_", " ").Replace(ch.ID))
		}
		c.byID[ch.ID] = ch
		c.order = append(c.order, ch.ID)
	}
	return c, nil
}

// LoadFile reads a YAML catalog:
//
//	characters:
//	  - id: joshua
//	    label: Joshua Bright
//	    persona: Calm, perceptive partner who guides gently.
//	    avatar: https://example.com/joshua.png
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read characters file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse characters: %w", err)
	}
	return NewCatalog(f.Characters)
}

// Load returns the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

func (c *Catalog) Get(id string) (Character, error) {
	ch, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Character{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return ch, nil
}

// List returns characters in catalog order.
func (c *Catalog) List() []Character {
	out := make([]Character, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Len() int { return len(c.order) }
