// internal/app/bootstrap/routes.go
package bootstrap

import (
	"context"
	"net/http"
	"time"

	healthfeature "github.com/dalemusser/codestrata/internal/app/features/health"
	treeapifeature "github.com/dalemusser/codestrata/internal/app/features/treeapi"
	"github.com/dalemusser/codestrata/internal/app/store/node"
	"github.com/dalemusser/codestrata/internal/app/store/sourcecode"
	"github.com/dalemusser/codestrata/internal/app/system/filetree"
	"github.com/dalemusser/codestrata/internal/app/system/importer"
	"github.com/dalemusser/codestrata/internal/app/system/treeops"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: any DB or backend clients bundled in DBDeps
//   - logger: the fully configured zap.Logger for this app
//
// This function should:
//  1. Create a router (chi, standard mux, etc.)
//  2. Mount feature routers for different parts of your application
//  3. Add any additional middleware needed for specific routes
//  4. Return the configured router as an http.Handler
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	nodes := node.New(deps.MongoDatabase, logger)
	sources := sourcecode.New(deps.MongoDatabase)

	imp := importer.New(nodes, sources, logger)
	if appCfg.GitHubAPIBase != "" {
		imp.GitHubAPIBase = appCfg.GitHubAPIBase
	}
	if appCfg.GitHubRawBase != "" {
		imp.GitHubRawBase = appCfg.GitHubRawBase
	}
	if appCfg.ImportConcurrency > 0 {
		imp.Concurrency = appCfg.ImportConcurrency
	}

	// The retry pass after row timeouts runs on its own freshly dialed
	// client; the stalls track the pooled connection, not the row, so
	// reusing the main pool would just time out again.
	redial := func(ctx context.Context) (filetree.Fetcher, func(context.Context) error, error) {
		poolCfg := wafflemongo.DefaultPoolConfig()
		poolCfg.MaxPoolSize = 2
		poolCfg.MinPoolSize = 0
		client, err := wafflemongo.ConnectWithPool(ctx, appCfg.MongoURI, appCfg.MongoDatabase, poolCfg)
		if err != nil {
			return nil, nil, err
		}
		fresh := node.New(client.Database(appCfg.MongoDatabase), logger)
		return fresh, client.Disconnect, nil
	}

	builder := filetree.NewBuilder(nodes, redial, logger)
	if appCfg.TreeRowTimeout > 0 {
		builder.RowTimeout = appCfg.TreeRowTimeout
	}
	if appCfg.TreeMaxChildren > 0 {
		builder.MaxChildren = appCfg.TreeMaxChildren
	}
	if appCfg.TreeBulkThreshold > 0 {
		builder.BulkThreshold = appCfg.TreeBulkThreshold
	}

	engine := treeops.New(nodes, sources, logger)

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	// Request timeout middleware: prevents requests from hanging indefinitely.
	// Imports of large repositories stay well under this in practice; the
	// row-by-row tree walk bounds itself per row long before the cap.
	r.Use(chimw.Timeout(120 * time.Second))

	// CORS middleware: must be early in the chain to handle preflight requests.
	r.Use(middleware.CORSFromConfig(coreCfg))

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// ─────────────────────────────────────────────────────────────────────────────
	// Feature routes
	// ─────────────────────────────────────────────────────────────────────────────

	apiHandler := treeapifeature.NewHandler(imp, builder, engine, nodes, sources, logger)
	r.Mount("/api", treeapifeature.Routes(apiHandler))

	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	healthfeature.MountRootEndpoints(r, healthHandler)

	logger.Info("HTTP handler built",
		zap.String("env", coreCfg.Env),
		zap.Int64("tree_bulk_threshold", builder.BulkThreshold),
	)

	return r, nil
}
