//go:build wireinject
// +build wireinject

package di

import (
	"TickLab/pkg/config"
	"TickLab/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRecordStore,
		ProvideStateCache,
		ProvideEventPublisher,

		// Core services
		ProvideEngine,
		ProvideStreamClient,

		// Use cases
		ProvideCollector,
		ProvidePredictor,

		// HTTP surface and application server
		ProvideAPIHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
