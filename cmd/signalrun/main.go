package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

const (
	appName = "signalrun"
	version = "v0.4.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("signalrun failed")
		os.Exit(1)
	}
}
