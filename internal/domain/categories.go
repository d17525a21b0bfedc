package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultFallbackCategory is used for labels that are not part of the set.
const DefaultFallbackCategory = "Other"

// Category is one entry of the budget taxonomy.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CategorySet is the immutable taxonomy shared by extraction and publishing.
// It is built once at startup and never reloaded.
type CategorySet struct {
	categories []Category
	byName     map[string]Category
	fallback   string
}

// DefaultCategories is used when no taxonomy source is configured.
var DefaultCategories = []Category{
	{ID: "1", Name: "Food"},
	{ID: "2", Name: "Groceries"},
	{ID: "3", Name: "Transportation"},
	{ID: "4", Name: "Housing"},
	{ID: "5", Name: "Utilities"},
	{ID: "6", Name: "Health"},
	{ID: "7", Name: "Entertainment"},
	{ID: "8", Name: "Shopping"},
	{ID: "9", Name: "Education"},
	{ID: "10", Name: "Income"},
	{ID: "11", Name: DefaultFallbackCategory},
}

// NewCategorySet builds a set from the given categories. The fallback label is
// appended as a category if the list does not already contain it.
func NewCategorySet(categories []Category, fallback string) (CategorySet, error) {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultFallbackCategory
	}

	set := CategorySet{
		byName:   make(map[string]Category, len(categories)+1),
		fallback: fallback,
	}
	for i, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return CategorySet{}, fmt.Errorf("%w: category %d has an empty name", ErrValidation, i)
		}
		key := normalizeCategory(name)
		if _, dup := set.byName[key]; dup {
			continue
		}
		c.Name = name
		set.byName[key] = c
		set.categories = append(set.categories, c)
	}

	if _, ok := set.byName[normalizeCategory(fallback)]; !ok {
		c := Category{ID: fmt.Sprintf("%d", len(set.categories)+1), Name: fallback}
		set.byName[normalizeCategory(fallback)] = c
		set.categories = append(set.categories, c)
	}

	return set, nil
}

// LoadCategorySet reads a JSON array of {"id", "name"} objects.
func LoadCategorySet(path, fallback string) (CategorySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CategorySet{}, fmt.Errorf("LoadCategorySet: read %q: %w", path, err)
	}

	var categories []Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return CategorySet{}, fmt.Errorf("LoadCategorySet: %w: decode %q: %v", ErrValidation, path, err)
	}
	if len(categories) == 0 {
		return CategorySet{}, fmt.Errorf("LoadCategorySet: %w: %q has no categories", ErrValidation, path)
	}

	return NewCategorySet(categories, fallback)
}

// Categories returns a copy of the categories in taxonomy order.
func (s CategorySet) Categories() []Category {
	out := make([]Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// Names returns the category names in taxonomy order.
func (s CategorySet) Names() []string {
	names := make([]string, len(s.categories))
	for i, c := range s.categories {
		names[i] = c.Name
	}
	return names
}

// Fallback returns the label used for unrecognised categories.
func (s CategorySet) Fallback() string {
	return s.fallback
}

// Contains reports whether label names a category in the set.
func (s CategorySet) Contains(label string) bool {
	_, ok := s.byName[normalizeCategory(label)]
	return ok
}

// Lookup returns the category for label, compared case-insensitively.
func (s CategorySet) Lookup(label string) (Category, bool) {
	c, ok := s.byName[normalizeCategory(label)]
	return c, ok
}

// Coerce maps label onto the canonical category name, or the fallback.
func (s CategorySet) Coerce(label string) string {
	if c, ok := s.byName[normalizeCategory(label)]; ok {
		return c.Name
	}
	return s.fallback
}

// normalizeCategory converts to uppercase and trims whitespace for
// case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
