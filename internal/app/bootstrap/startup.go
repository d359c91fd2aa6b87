// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema/index setup are complete,
// but before the HTTP handler is built and requests are served.
//
// This is the place for one-time initialization that depends on having live
// database connections and fully loaded configuration. Unlike ConnectDB and
// EnsureSchema which focus on infrastructure, Startup is for application-level
// initialization.
//
// Returning a non-nil error will abort startup and prevent the server from
// starting. Returning nil signals that initialization succeeded.
//
// The context will be cancelled if the process is asked to shut down while
// Startup is running; honor it in any long-running work.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	// A cheap round trip that both verifies the connection works for real
	// queries and gives operators a sense of the data set on boot.
	db := deps.MongoDatabase

	nodeCount, err := db.Collection("nodes").EstimatedDocumentCount(ctx)
	if err != nil {
		logger.Error("failed to count nodes", zap.Error(err))
		return err
	}
	sourceCount, err := db.Collection("source_codes").EstimatedDocumentCount(ctx)
	if err != nil {
		logger.Error("failed to count source codes", zap.Error(err))
		return err
	}

	logger.Info("startup complete",
		zap.Int64("nodes", nodeCount),
		zap.Int64("source_codes", sourceCount),
	)
	return nil
}
