// Package client is the Go client for the ragflow HTTP API.
//
// Events are fire-and-forget: Ingest and Query return a run id as soon as
// the run is scheduled. Status fetches the run at any later time, possibly
// from another process; Wait polls it with bounded exponential backoff
// until it is terminal or the timeout elapses.
//
//	c, _ := client.New("http://localhost:8080", client.WithAPIKey(key))
//	id, _ := c.Query(ctx, "What is RAG?", 5)
//	run, err := c.Wait(ctx, id, time.Minute)
//	if errors.Is(err, client.ErrTimedOut) {
//	    // the run may still finish; poll again later
//	}
//	var res client.QueryResult
//	_ = run.DecodeOutput(&res)
package client
