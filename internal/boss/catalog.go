package boss

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownBoss is returned when a boss id is not in the catalog.
var ErrUnknownBoss = errors.New("unknown boss")

// Catalog is a read-only, ordered set of boss rules.
type Catalog struct {
	rules []Rule
	byID  map[string]int
}

// NewCatalog builds a catalog from rules, keeping their order. Rules
// without structured range bounds get them from the Respawn text when it
// parses. Empty or duplicate ids are rejected.
func NewCatalog(rules []Rule) (*Catalog, error) {
	c := &Catalog{
		rules: make([]Rule, 0, len(rules)),
		byID:  make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, r.ID)
		}
		c.byID[r.ID] = len(c.rules)
		c.rules = append(c.rules, normalize(r))
	}
	return c, nil
}

// Load reads a catalog document (a JSON array of rules) from path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a catalog document from r.
func Parse(r io.Reader) (*Catalog, error) {
	var rules []Rule
	if err := json.NewDecoder(r).Decode(&rules); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return NewCatalog(rules)
}

// Get returns the rule for id.
func (c *Catalog) Get(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// Lookup is Get with an error for missing ids.
func (c *Catalog) Lookup(id string) (Rule, error) {
	r, ok := c.Get(id)
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownBoss, id)
	}
	return r, nil
}

// All returns the rules in catalog order.
func (c *Catalog) All() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// IDs returns every boss id, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids
}

// Search returns rules whose name or respawn text contains q, case-insensitively.
// An empty query returns everything.
func (c *Catalog) Search(q string) []Rule {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return c.All()
	}
	var out []Rule
	for _, r := range c.rules {
		if strings.Contains(strings.ToLower(r.Name), q) || strings.Contains(strings.ToLower(r.Respawn), q) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of bosses.
func (c *Catalog) Len() int { return len(c.rules) }

func normalize(r Rule) Rule {
	if r.MinMinutes != nil && r.MaxMinutes != nil {
		return r
	}
	if r.Respawn == "" {
		return r
	}
	if lo, hi, ok := ParseRespawnRange(r.Respawn); ok {
		r.MinMinutes = Int(lo)
		r.MaxMinutes = Int(hi)
	}
	return r
}

var (
	hoursPattern   = regexp.MustCompile(`(\d+)\s*(?:小時|小时|h)`)
	minutesPattern = regexp.MustCompile(`(\d+)\s*(?:分|m)`)
	rangeSeparator = regexp.MustCompile(`[~～]`)
)

// ParseRespawnRange turns a human respawn window such as "3小時30分~4小時",
// "45分~1小時" or "45m~1h" into minute bounds, smaller first.
func ParseRespawnRange(s string) (lo, hi int, ok bool) {
	s = strings.NewReplacer("（", "", "）", "", "(", "", ")", "").Replace(s)
	parts := rangeSeparator.Split(strings.TrimSpace(s), -1)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, okA := spanMinutes(parts[0])
	b, okB := spanMinutes(parts[1])
	if !okA || !okB {
		return 0, 0, false
	}
	return min(a, b), max(a, b), true
}

func spanMinutes(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	var total int
	var matched bool
	if m := hoursPattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		total += h * 60
		matched = true
	}
	if m := minutesPattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n
		matched = true
	}
	return total, matched
}
