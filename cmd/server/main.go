package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("babyguess")
		os.Exit(1)
	}
}
