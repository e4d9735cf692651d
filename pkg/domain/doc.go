/*
Package domain contains the core domain models of the espalier engine.

It defines the record threaded through the analytical pipeline and the values
exchanged between the engine and its nodes. This package is kept pure and free
of external dependencies like I/O or persistence.

# Key Entities

  - WorkflowState: the evolving record of one session (question, analysis, query, results, control fields).
  - NodeID: the closed set of pipeline steps.
  - NodeResult: what a node invocation returns (signal, success flag, updated state).
  - Checkpoint: an immutable, versioned snapshot of a session used to resume it.
  - InterruptRequest: the description of a pending human decision.
*/
package domain
