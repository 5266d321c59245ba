/*
Package prdflow is a client for staged product-requirements workflows.

A backend runs a clarifier that may ask the user questions, then a pipeline
of analysis stages (product, customer, engineering, risk) and a final
summary. prdflow drives one such run per session over either transport the
backends speak:

  - streamed HTTP: each invocation is a POST whose response is
    newline-delimited JSON records;
  - a persistent WebSocket carrying typed JSON messages, reconnected with
    capped exponential backoff.

Events from either transport are decoded into one event model and folded by
a state machine (idle, starting, clarifying, running, complete, failed) into
a session snapshot that the report package renders as markdown.

# Usage

	client := prdflow.NewStream(session.StreamConfig{BaseURL: "http://localhost:8000"})
	defer client.Close(context.Background())

	snap, err := client.Run(ctx, "A fitness tracker for runners",
		func(ctx context.Context, question string) (string, error) {
			return askUser(question)
		})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(report.Render(snap))

For finer control, NewSession returns a bare session.Session wired with the
client's logger, metrics and event mirror.
*/
package prdflow
