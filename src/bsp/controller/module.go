package controller

import (
	bspserver "github.com/uber/bsp-go/src/bsp/controller/bsp-server"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(bspserver.New),
)
