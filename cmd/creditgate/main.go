package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/studyowl/creditgate/internal/clock"
	"github.com/studyowl/creditgate/internal/config"
	"github.com/studyowl/creditgate/internal/logger"
	"github.com/studyowl/creditgate/internal/migration"
	"github.com/studyowl/creditgate/internal/server"
	"github.com/studyowl/creditgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
