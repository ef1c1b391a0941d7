package es

import (
	"go.uber.org/fx"
)

var Module = fx.Module("es",
	fx.Provide(
		NewStore,
		NewRunner,
	),
)
