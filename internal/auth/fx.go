package auth

import (
	"github.com/studyowl/creditgate/internal/auth/service"
	"github.com/studyowl/creditgate/internal/auth/session"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(service.NewService),
	fx.Provide(session.NewManager),
)
