package main

import (
	"flag"
	"log"
	"time"

	"github.com/nimbusbrowse/netwatch/internal/config"
	"github.com/nimbusbrowse/netwatch/internal/demohost"
	"github.com/nimbusbrowse/netwatch/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	dev := flag.Bool("dev", false, "use development logging")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	if *dev {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config: " + err.Error())
	}

	host := demohost.New(30 * time.Second)

	runNetwatch(cfg, host, logger)
}
