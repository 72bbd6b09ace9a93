package main

import (
	"os"

	_ "botfarm/bots/BirthdayReminder"

	"go.uber.org/zap"
)

// getLogger creates a logger in the given namespace
func getLogger(ns string) (*zap.SugaredLogger, func() error) {
	logger, _ := zap.NewDevelopment(zap.Fields(zap.String("ns", ns)))

	log := logger.Sugar()
	return log, logger.Sync
}

// Botfarm entry point
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
