// Package middleware provides the composable chain wrapped around every
// engine operation. A Middleware sees the operation name and the job it
// targets, and can log it, trace it, record metrics for it, bound it with
// a deadline, or recover a panic inside it.
//
//	eng, _ := engine.Build(o,
//	    engine.WithMiddleware(
//	        middleware.Recover(logger),
//	        middleware.Logging(logger),
//	        middleware.Tracing(),
//	        middleware.Metrics(),
//	        middleware.Deadline(5*time.Second),
//	    ),
//	)
package middleware
