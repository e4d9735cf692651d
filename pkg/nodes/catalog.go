package nodes

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/espalier/pkg/domain"
)

// Entry is a known question and the query that answers it.
type Entry struct {
	ID       string   `yaml:"id"`
	Question string   `yaml:"question"`
	Keywords []string `yaml:"keywords,omitempty"`
	SQL      string   `yaml:"sql"`
	Chart    string   `yaml:"chart,omitempty"`
	Tables   []string `yaml:"tables,omitempty"`

	// Sample data served by CatalogRunner.
	EstimatedBytes int64    `yaml:"estimated_bytes,omitempty"`
	Columns        []string `yaml:"columns,omitempty"`
	Rows           [][]any  `yaml:"rows,omitempty"`

	tokens map[string]bool
}

// Catalog is the set of known questions.
type Catalog struct {
	Entries []*Entry `yaml:"queries"`
}

// LoadCatalog reads a YAML catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and indexes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if e == nil || e.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("catalog entry %q is defined twice", e.ID)
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.SQL) == "" {
			return nil, fmt.Errorf("catalog entry %q has no sql", e.ID)
		}
		e.index()
	}
	return &c, nil
}

func (e *Entry) index() {
	e.tokens = tokenize(e.Question)
	for _, k := range e.Keywords {
		for t := range tokenize(k) {
			e.tokens[t] = true
		}
	}
}

// Lookup returns the entry with the given id.
func (c *Catalog) Lookup(id string) (*Entry, bool) {
	for _, e := range c.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// BySQL returns the entry whose SQL equals the statement, ignoring whitespace
// and a trailing LIMIT added by the generator.
func (c *Catalog) BySQL(sql string) (*Entry, bool) {
	want := normalizeSQL(stripLimit(sql))
	for _, e := range c.Entries {
		if normalizeSQL(stripLimit(e.SQL)) == want {
			return e, true
		}
	}
	return nil, false
}

// Match scores every entry against the question and returns the best n,
// highest score first. Entries sharing no token with the question are dropped.
func (c *Catalog) Match(question string, n int) []domain.Match {
	q := tokenize(question)
	var out []domain.Match
	for _, e := range c.Entries {
		score := dice(q, e.tokens)
		if score == 0 {
			continue
		}
		out = append(out, domain.Match{
			ID:       e.ID,
			Question: e.Question,
			SQL:      e.SQL,
			Score:    score,
			Chart:    e.Chart,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "by": true, "do": true, "for": true,
	"from": true, "how": true, "in": true, "is": true, "it": true, "me": true, "of": true,
	"on": true, "our": true, "per": true, "show": true, "the": true, "to": true, "was": true,
	"were": true, "what": true, "which": true, "with": true, "we": true, "did": true,
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if stopWords[w] {
			continue
		}
		if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			w = strings.TrimSuffix(w, "s")
		}
		out[w] = true
	}
	return out
}

// dice is the Sørensen–Dice coefficient of two token sets.
func dice(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
