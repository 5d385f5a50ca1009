package catalog

import "go.uber.org/fx"

// Module provides the fixed package catalog.
var Module = fx.Module("catalog",
	fx.Provide(Default),
)
