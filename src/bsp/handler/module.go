package handler

import (
	controller "github.com/uber/bsp-go/src/bsp/controller"
	bspserver "github.com/uber/bsp-go/src/bsp/controller/bsp-server"
	handler "github.com/uber/bsp-go/src/bsp/handler/bsp-server"
	"github.com/uber/bsp-go/src/bsp/repository/session"
	"github.com/uber/bsp-go/src/bsp/repository/targets"
	"go.uber.org/fx"
)

// Module provides the bsp-server into an Fx application.
var Module = fx.Options(
	controller.Module,
	targets.Module,
	fx.Provide(session.New),
	fx.Provide(handler.New),
	fx.Invoke(func(m handler.Handler) {}),
	fx.Invoke(func(m bspserver.Controller) {}),
)
