// Package middleware provides the HTTP middleware of the introspection API.
//
//   - CORS: cross-origin reads with trace headers exposed
//   - RateLimit: per-IP token bucket, idle clients dropped
//   - GlobalRateLimit: one bucket shared by every client
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
