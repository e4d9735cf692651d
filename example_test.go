package espalier_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/domain"
)

// ExampleNew runs a question through the reference pipeline with an
// in-memory store: the session pauses for review, then completes once the
// generated query is approved.
func ExampleNew() {
	engine, err := espalier.New()
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()
	id, err := engine.Start(ctx, "What were total sales per region last month?")
	if err != nil {
		log.Fatal(err)
	}

	view, err := engine.Status(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(view.State.Status, view.State.CurrentNode, view.Interrupt.Kind)

	err = engine.Resume(ctx, id, domain.HumanDecision{Decision: domain.DecisionApprove})
	if err != nil {
		log.Fatal(err)
	}

	view, err = engine.Status(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(view.State.Status, view.State.CurrentNode)
	// Output:
	// WAITING_FOR_INPUT review review
	// COMPLETED report
}
