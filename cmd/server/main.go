package main

import (
	"github.com/optiflow-ai/consolidation/internal/server"
	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
