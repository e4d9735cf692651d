/*
Package espalier orchestrates analytical questions through a fixed workflow
graph: analysis, optional clarification, query generation, execution,
validation, human review, visualization and reporting.

# Concept

Every session is a value (domain.WorkflowState) that is checkpointed after
each node. Nodes receive the state and return a NodeResult carrying a signal:
CONTINUE routes on to the next node, SUSPEND parks the session waiting for a
human decision, FAIL hands the failure to the retry and circuit-breaker
policy. Because everything lives in the checkpoint, a waiting session holds no
goroutine and can be resumed by any process sharing the store.

# Usage

	eng, err := espalier.New()
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	ctx := context.Background()
	id, err := eng.Start(ctx, "What were total sales per region last month?")
	if err != nil {
		log.Fatal(err)
	}

	// The session now waits for the reviewer.
	view, _ := eng.Status(ctx, id)
	fmt.Println(view.Interrupt.Prompt)

	err = eng.Resume(ctx, id, domain.HumanDecision{Decision: domain.DecisionApprove})
	if err != nil {
		log.Fatal(err)
	}
	report, err := eng.Result(ctx, id)

# Storage

The default store is in memory. The file, Redis and Postgres stores under
pkg/adapters and internal/adapters implement ports.CheckpointStore, and the
middleware in pkg/persistence/middleware adds encryption and column masking
on top of any of them.
*/
package espalier
