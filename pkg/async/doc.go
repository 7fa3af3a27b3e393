// Package async runs background goroutines with panic recovery and logrus logging.
//
// Go starts a long-lived task such as an HTTP server:
//
//	async.Go(logger, "api server", func() error {
//		return ignoreClosed(server.ListenAndServe())
//	})
//
// Every runs a periodic task until its context is cancelled:
//
//	async.Every(ctx, logger, time.Minute, "rate limit cleanup", func(ctx context.Context) error {
//		limiter.Cleanup()
//		return nil
//	})
//
// A panic in either is logged with its stack and does not crash the process.
package async
