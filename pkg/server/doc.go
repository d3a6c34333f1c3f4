// Package server assembles the governance runtime and serves it over HTTP.
//
// Build turns a config.Config into an App: logger, tracer, metrics
// collector, signer, policy engine over a file source (optionally watched
// with fsnotify), trace archive, approval store, orchestrator, retention
// pruner and health checks. The CLI uses an App directly; NewServer wraps
// it in an HTTP server:
//
//	app, err := server.Build(cfg)
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//
//	srv := server.NewServer(app)
//	return srv.Start(ctx)
//
// Start also schedules archive pruning and the sweep that abandons parked
// traces older than the pending TTL. It returns after SIGINT/SIGTERM, ctx
// cancellation or Stop, once in-flight requests have drained.
package server
