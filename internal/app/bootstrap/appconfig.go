// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//   - Database connection timeouts
//
// AppConfig is where you put everything specific to YOUR application.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Maximum connections in pool (default: 100)
	MongoMinPoolSize uint64 // Minimum connections to keep warm (default: 10)

	// GitHub import configuration
	GitHubAPIBase     string // GitHub API base URL (override for proxies/testing)
	GitHubRawBase     string // Raw content base URL
	ImportConcurrency int    // Parallel blob fetches per GitHub import (default: 8)

	// Tree builder configuration
	TreeRowTimeout    time.Duration // Per-row deadline in the row-by-row walk (default: 2s)
	TreeMaxChildren   int64         // Children scanned per folder before giving up (default: 1000)
	TreeBulkThreshold int64         // Node count above which the row-by-row walk is used (default: 200)
}
