package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/LanreCloud/minicoach/coachservice"
)

func main() {
	if err := coachservice.Run(); err != nil {
		log.Error().Err(err).Msg("coach-service exited with error")
		os.Exit(1)
	}
}
