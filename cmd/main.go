package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/firdavs625/groupquiz/internal/config"
	"github.com/firdavs625/groupquiz/internal/server"
	"github.com/firdavs625/groupquiz/internal/telemetry"
)

const envPrefix = "GROUPQUIZ"

func main() {
	// .env is optional, real environment wins.
	_ = godotenv.Load()

	file := pflag.StringP("config", "c", os.Getenv("CONFIG_PATH"), "path to the config file")
	pflag.Parse()

	c, err := loadConfig(*file)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	logger, err := telemetry.NewLogger(os.Stdout, c.Log)
	if err != nil {
		log.Fatalf("Init logger failed: %v", err)
	}
	slog.SetDefault(logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

func loadConfig(file string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(file, &c, config.WithEnvPrefix(envPrefix)); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
