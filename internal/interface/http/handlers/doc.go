// Package handlers contains the fiber handlers and middleware of the HTTP API.
//
// # Health Checks
//
// Dependencies that implement Checker (the Postgres connection, the Redis
// cache) are registered by name and checked in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v0.1.0")
//	checker.AddChecker(pgConn)
//	checker.AddChecker(redisCache)
//
//	app.Get("/health", handlers.Health(checker))
//	app.Get("/ready", handlers.Ready(checker))
//
// # Errors
//
// Handlers return errors instead of writing error bodies. ErrorHandler maps
// them through the domain error kinds: validation to 400, unauthorized to
// 401, not found to 404, everything else to 500. The body is always
// {"error": "..."}.
//
// # Admin Endpoints
//
// AdminKey compares the X-Admin-Key header with a bcrypt hash taken from
// ADMIN_KEY_HASH. The hash is produced by `inkquest hash-key <key>`.
package handlers
