// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// EnvVarPrefix is the prefix for environment variables.
// Change this constant when forking codestrata for a new project.
const EnvVarPrefix = "CODESTRATA"

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, tree_bulk_threshold, etc.
//   - Environment variables: CODESTRATA_MONGO_URI, CODESTRATA_TREE_BULK_THRESHOLD, etc.
//   - Command-line flags: --mongo_uri, --tree_bulk_threshold, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "codestrata", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// GitHub import configuration
	{Name: "github_api_base", Default: "https://api.github.com", Desc: "GitHub API base URL"},
	{Name: "github_raw_base", Default: "https://raw.githubusercontent.com", Desc: "GitHub raw content base URL"},
	{Name: "import_concurrency", Default: 8, Desc: "Parallel blob fetches per GitHub import"},

	// Tree builder configuration
	{Name: "tree_row_timeout", Default: "2s", Desc: "Per-row deadline in the row-by-row tree walk"},
	{Name: "tree_max_children", Default: 1000, Desc: "Max children scanned per folder"},
	{Name: "tree_bulk_threshold", Default: 200, Desc: "Node count above which the row-by-row walk is used"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// It is called early in startup so that both WAFFLE and the app have
// access to configuration before any backends or handlers are built.
// CoreConfig comes from the shared WAFFLE layer; AppConfig is specific
// to this app and can be extended as the app grows.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, CODESTRATA_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		// GitHub import
		GitHubAPIBase:     appValues.String("github_api_base"),
		GitHubRawBase:     appValues.String("github_raw_base"),
		ImportConcurrency: appValues.Int("import_concurrency"),

		// Tree builder
		TreeRowTimeout:    appValues.Duration("tree_row_timeout", 2*time.Second),
		TreeMaxChildren:   int64(appValues.Int("tree_max_children")),
		TreeBulkThreshold: int64(appValues.Int("tree_bulk_threshold")),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// This is the right place to enforce required fields or invariants that
// involve both the core and app configs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.TreeRowTimeout <= 0 {
		return fmt.Errorf("tree_row_timeout must be positive, got %s", appCfg.TreeRowTimeout)
	}
	if appCfg.TreeMaxChildren <= 0 {
		return fmt.Errorf("tree_max_children must be positive, got %d", appCfg.TreeMaxChildren)
	}
	if appCfg.TreeBulkThreshold <= 0 {
		return fmt.Errorf("tree_bulk_threshold must be positive, got %d", appCfg.TreeBulkThreshold)
	}

	return nil
}
