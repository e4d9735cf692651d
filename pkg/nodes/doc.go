// Package nodes provides reference implementations of the pipeline nodes.
//
// They are deliberately simple: the analyzer scores the question against a
// YAML catalog of known questions, the generator reuses the catalog SQL, and
// the executor runs it through a Runner (Postgres or canned catalog rows)
// behind a read-only guard and a dry-run cost limit. They exist so the
// engine can be exercised end to end; smarter collaborators plug in through
// ports.Node.
package nodes
