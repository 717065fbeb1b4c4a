// Package bootstrap turns a validated configuration into a running
// persistence service and tears it down again.
//
// Usage:
//
//	b := bootstrap.New(logger)
//	svc, err := b.Start(ctx, cfg)
//	if err != nil {
//	    os.Exit(bootstrap.ExitCode(err))
//	}
//	<-signalCtx.Done()
//	err = svc.Shutdown(context.Background())
//
// Start opens resources in a fixed order (credentials, tracing, graph store,
// redis, REST listener, RPC listener) and closes everything it opened, in
// reverse, when a later step fails. Shutdown stops admission on both
// surfaces, drains in-flight work within shutdown.grace_period and then
// releases the clients.
package bootstrap
