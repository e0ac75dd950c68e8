package card

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// Card is a single communication symbol. Path identifies it across the catalog and the index.
type Card struct {
	Path         string   `yaml:"path" json:"path"`
	Category     string   `yaml:"category" json:"category"`
	Action       string   `yaml:"action" json:"action"`
	Target       string   `yaml:"target" json:"target"`
	Keywords     []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	URL          string   `yaml:"url,omitempty" json:"url,omitempty"`
	ThumbnailURL string   `yaml:"thumbnail_url,omitempty" json:"thumbnailUrl,omitempty"`
}

// Category groups cards and carries the description shown to the model.
type Category struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Catalog is the static card configuration loaded at startup.
type Catalog struct {
	Categories []Category `yaml:"categories" json:"categories"`
	Cards      []Card     `yaml:"cards" json:"cards"`
}

//go:embed default_cards.yaml
var defaultCatalog []byte

// Seed returns the built-in catalog used when no catalog file is configured.
func Seed() *Catalog {
	catalog, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("card: built-in catalog is invalid: %v", err))
	}
	return catalog
}

// LoadCatalog reads a YAML catalog, expanding ${ENV} references before parsing.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	catalog, err := ParseCatalog([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return catalog, nil
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog.normalize()
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}
	return &catalog, nil
}

func (c *Catalog) normalize() {
	for i := range c.Categories {
		c.Categories[i].Name = strings.TrimSpace(c.Categories[i].Name)
		c.Categories[i].Description = strings.TrimSpace(c.Categories[i].Description)
	}
	for i := range c.Cards {
		card := &c.Cards[i]
		card.Path = strings.TrimSpace(card.Path)
		card.Category = strings.TrimSpace(card.Category)
		card.Action = strings.TrimSpace(card.Action)
		card.Target = strings.ToLower(strings.TrimSpace(card.Target))

		keywords := card.Keywords[:0]
		for _, kw := range card.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		card.Keywords = keywords
	}
}

// Validate checks every category and card and rejects duplicate identifiers.
func (c *Catalog) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Categories, validation.Required),
		validation.Field(&c.Cards, validation.Required),
	); err != nil {
		return err
	}

	names := make([]interface{}, 0, len(c.Categories))
	seenCategories := make(map[string]struct{}, len(c.Categories))
	for i := range c.Categories {
		category := &c.Categories[i]
		if err := validation.ValidateStruct(category,
			validation.Field(&category.Name, validation.Required),
			validation.Field(&category.Description, validation.Required),
		); err != nil {
			return fmt.Errorf("category %d: %w", i, err)
		}
		if _, dup := seenCategories[category.Name]; dup {
			return fmt.Errorf("category %q: duplicate name", category.Name)
		}
		seenCategories[category.Name] = struct{}{}
		names = append(names, category.Name)
	}

	seenPaths := make(map[string]struct{}, len(c.Cards))
	for i := range c.Cards {
		card := &c.Cards[i]
		if err := validation.ValidateStruct(card,
			validation.Field(&card.Path, validation.Required),
			validation.Field(&card.Category, validation.Required, validation.In(names...)),
			validation.Field(&card.Action, validation.Required),
			validation.Field(&card.Target, validation.Required),
			validation.Field(&card.URL, is.URL),
			validation.Field(&card.ThumbnailURL, is.URL),
		); err != nil {
			return fmt.Errorf("card %d (%s): %w", i, card.Path, err)
		}
		if _, dup := seenPaths[card.Path]; dup {
			return fmt.Errorf("card %q: duplicate path", card.Path)
		}
		seenPaths[card.Path] = struct{}{}
	}

	return nil
}
