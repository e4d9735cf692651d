package nodes

import (
	_ "embed"
	"time"

	"github.com/aretw0/espalier/pkg/pipeline"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the bundled demo catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic("nodes: bundled catalog is invalid: " + err.Error())
	}
	return c
}

// Config configures the reference nodes.
type Config struct {
	Catalog *Catalog
	// Runner executes queries; nil serves the catalog sample rows.
	Runner   Runner
	RowLimit int
	MaxBytes int64
	Clock    func() time.Time
}

// Pipeline returns the reference implementation of every pipeline node.
func Pipeline(cfg Config) pipeline.Nodes {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = &CatalogRunner{Catalog: catalog}
	}
	return pipeline.Nodes{
		Analyze:   &Analyzer{Catalog: catalog},
		Clarify:   Clarifier{},
		Generate:  &Generator{RowLimit: cfg.RowLimit},
		Execute:   &Executor{Runner: runner, MaxBytes: cfg.MaxBytes},
		Validate:  &Validator{},
		Review:    Reviewer{},
		Visualize: Visualizer{},
		Report:    &Reporter{Clock: cfg.Clock},
		Error:     &ErrorHandler{Clock: cfg.Clock},
	}
}
