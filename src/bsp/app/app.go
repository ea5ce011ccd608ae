package app

import (
	"context"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/bsp-go/src/bsp/engine"
	notifier "github.com/uber/bsp-go/src/bsp/gateway/build-client"
	"github.com/uber/bsp-go/src/bsp/handler"
	"github.com/uber/bsp-go/src/bsp/internal/core"
	"github.com/uber/bsp-go/src/bsp/internal/executor"
	"github.com/uber/bsp-go/src/bsp/internal/jsonrpcfx"
	"github.com/uber/bsp-go/src/bsp/internal/serverinfofile"
	"go.uber.org/fx"
)

// Module defines the bsp-server application module.
var Module = fx.Options(
	handler.Module, // inbounds
	jsonrpcfx.Module,
	engine.Module,
	executor.Module,
	serverinfofile.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(notifier.New),
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "bsp-server",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
)
