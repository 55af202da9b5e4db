package exchange

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewExchange constructs an Exchange with its default configuration for an
// fx dependency graph, mirroring the order-matching module's NewEngine
// constructor in the teacher repo.
func NewExchange(logger *zap.Logger) *Exchange {
	return New(DefaultConfig(), logger)
}

// ExchangeModule provides the exchange coordinator for an fx application.
// It is construction wiring only (it provides NewExchange, which registers
// no lifecycle hooks), never network lifecycle — the HTTP/gRPC façade that
// would start listeners is out of scope (spec.md §1).
var ExchangeModule = fx.Options(
	fx.Provide(NewExchange),
)

// NewFxExchange is the fx-lifecycle-aware variant, logging start/stop the
// way the teacher's NewFxEngine does for its matching engine.
func NewFxExchange(lifecycle fx.Lifecycle, logger *zap.Logger) *Exchange {
	ex := NewExchange(logger)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting exchange coordinator")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping exchange coordinator")
			return nil
		},
	})

	return ex
}
