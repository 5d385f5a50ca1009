package intent

import (
	"github.com/studyowl/creditgate/internal/intent/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("intent.repository",
	fx.Provide(repository.Provide),
)
