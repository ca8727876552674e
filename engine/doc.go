// # Building an Engine
//
//	o, err := automation.New(
//	    automation.WithStore(pgStore),
//	    automation.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithIndex(redisIndex),
//	    engine.WithLimiter(queue.NewLimiter(queue.Config{RateLimit: 5, RateBurst: 10})),
//	    engine.WithExtension(broker),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Job operations
//
//	j, err := eng.Create(ctx, engine.CreateRequest{ClientID: cid, Type: job.TypeMenuSync})
//	j, err = eng.Update(ctx, j.ID, job.Patch{Metadata: map[string]any{"owner": "ops"}})
//	j, err = eng.Cancel(ctx, j.ID)
//	j, err = eng.Retry(ctx, j.ID)
//
// # Execution backends
//
//	j, err := eng.Claim(ctx, workerID) // nil, nil when nothing is queued
//	j, err = eng.Heartbeat(ctx, j.ID)  // j.Status == cancelled means stop
//
// Every mutation is applied under a per-job lock against the latest stored
// copy and committed with a version check, so concurrent writers touching
// different fields never lose each other's changes. After each commit the
// dispatch index is updated and the extensions are notified; completions
// immediately re-check the jobs that depend on the completed one.
//
// # Options
//
//   - [WithExtension] register a lifecycle extension
//   - [WithMiddleware] add a middleware to the mutation chain
//   - [WithIndex] set the dispatch index (memory, redis or postgres)
//   - [WithLimiter] throttle creation per client
//   - [WithTracerProvider] / [WithMeterProvider] set OpenTelemetry providers
package engine
