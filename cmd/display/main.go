package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/app"
	"github.com/relabs-tech/co2_monitor/internal/config"
)

func main() {
	configPath := flag.String("config", "./co2_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting co2-monitor OLED display")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
