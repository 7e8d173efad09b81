// Package main wires together the harvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envPath := flag.String("env", ".env", "Optional dotenv file loaded before the environment is read")
	flag.Parse()

	if err := run(*cfgPath, *envPath); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, envPath string) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	// Sink calls outlive the signal context so queued progress still drains.
	app, err := server.Build(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return app.Run(context.Background())
}
