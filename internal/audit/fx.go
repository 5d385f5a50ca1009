package audit

import (
	"github.com/studyowl/creditgate/internal/audit/repository"
	"github.com/studyowl/creditgate/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
