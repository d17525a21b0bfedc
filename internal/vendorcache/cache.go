// Package vendorcache remembers which category each customer's vendors were
// assigned, so repeat vendors are categorised consistently.
package vendorcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/dvloznov/budgetflow/internal/logger"
)

// DefaultThreshold is the maximum edit distance for a fuzzy match.
const DefaultThreshold = 3

var distanceOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Cache holds vendor → category mappings per customer. Mappings are loaded
// lazily from dir/<customer>.json and written back by Save. An empty dir keeps
// everything in memory.
type Cache struct {
	dir       string
	threshold int

	mu       sync.Mutex
	mappings map[string]map[string]string
	dirty    map[string]bool
}

// New creates a cache persisted under dir.
func New(dir string, threshold int) *Cache {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Cache{
		dir:       dir,
		threshold: threshold,
		mappings:  make(map[string]map[string]string),
		dirty:     make(map[string]bool),
	}
}

// Normalize is the matching key for a vendor name.
func Normalize(vendor string) string {
	return strings.ToLower(strings.TrimSpace(vendor))
}

// Lookup returns the cached category for vendor: an exact match first, then
// the closest entry within the edit-distance threshold.
func (c *Cache) Lookup(ctx context.Context, customerID, vendor string) (string, bool) {
	key := Normalize(vendor)
	if key == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.load(ctx, customerID)

	if cat, ok := m[key]; ok {
		return cat, true
	}

	best, bestDist := "", c.threshold+1
	for cached := range m {
		d := levenshtein.DistanceForStrings([]rune(key), []rune(cached), distanceOptions)
		if d < bestDist || (d == bestDist && cached < best) {
			best, bestDist = cached, d
		}
	}
	if best == "" {
		return "", false
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("vendor", vendor).
		Str("matched", best).
		Int("distance", bestDist).
		Msg("Fuzzy vendor match")
	return m[best], true
}

// Learn records vendor → category unless the vendor is already known.
// It reports whether a new mapping was added.
func (c *Cache) Learn(ctx context.Context, customerID, vendor, category string) bool {
	key := Normalize(vendor)
	if key == "" || category == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.load(ctx, customerID)

	if _, ok := m[key]; ok {
		return false
	}
	m[key] = category
	c.dirty[customerID] = true
	return true
}

// Mappings returns a copy of the customer's mappings.
func (c *Cache) Mappings(ctx context.Context, customerID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.load(ctx, customerID)
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Save writes the customer's mappings if they changed since the last save.
func (c *Cache) Save(ctx context.Context, customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty[customerID] || c.dir == "" {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("Save: create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(c.mappings[customerID], "", "  ")
	if err != nil {
		return fmt.Errorf("Save: marshal mappings: %w", err)
	}

	path := c.path(customerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("Save: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("Save: rename %q: %w", tmp, err)
	}

	c.dirty[customerID] = false
	log := logger.FromContext(ctx)
	log.Debug().
		Str("customer_id", customerID).
		Int("vendors", len(c.mappings[customerID])).
		Msg("Saved vendor cache")
	return nil
}

// load returns the customer's map, reading it from disk on first use.
// A missing or corrupt file yields an empty map. Callers hold c.mu.
func (c *Cache) load(ctx context.Context, customerID string) map[string]string {
	log := logger.FromContext(ctx)

	if m, ok := c.mappings[customerID]; ok {
		return m
	}

	m := make(map[string]string)
	c.mappings[customerID] = m
	if c.dir == "" {
		return m
	}

	data, err := os.ReadFile(c.path(customerID))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("customer_id", customerID).Msg("Failed to read vendor cache")
		}
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("Failed to parse vendor cache")
		m = make(map[string]string)
		c.mappings[customerID] = m
	}
	return m
}

func (c *Cache) path(customerID string) string {
	return filepath.Join(c.dir, url.PathEscape(customerID)+".json")
}
