// Package bootstrap provides application initialization and lifecycle
// management. It extracts the wiring logic from main.go into testable,
// composable components.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Start(ctx); err != nil {
//	    app.Shutdown()
//	    log.Fatal(err)
//	}
//
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
