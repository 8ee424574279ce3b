package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/example/sessionauth/internal/config"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/migrations"
)

func main() {
	var (
		command    = pflag.StringP("command", "c", "up", "migration command: up, down, version, force")
		steps      = pflag.Int("steps", 0, "number of migration steps for up/down (0 means all)")
		version    = pflag.Int("version", -1, "target version for force")
		configPath = pflag.String("config", "", "path to the config file (defaults to CONFIG_PATH)")
	)
	pflag.Parse()

	if *configPath != "" {
		_ = os.Setenv("CONFIG_PATH", *configPath)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Setup(cfg.Env, os.Stdout)

	if err := run(cfg, log, *command, *steps, *version); err != nil {
		log.Error("migration failed", slog.String("command", *command), logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, command string, steps, version int) error {
	if cfg.DBAdapter != "postgres" {
		return fmt.Errorf("migrations only run against postgres, DB_ADAPTER is %q", cfg.DBAdapter)
	}

	dsn, err := cfg.BuildPostgresDSN()
	if err != nil {
		return fmt.Errorf("postgres config: %w", err)
	}

	if command == "up" && steps == 0 {
		return migrations.Apply(dsn, log)
	}

	mg, err := migrations.New(dsn)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch command {
	case "up":
		if err := mg.Steps(steps); err != nil {
			return err
		}
	case "down":
		if steps > 0 {
			err = mg.Steps(-steps)
		} else {
			err = mg.Down()
		}
		if err != nil {
			return err
		}
	case "version":
		v, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("version %d: %w", v, migrations.ErrDirty)
		}
		log.Info("current migration version", slog.Uint64("version", uint64(v)))
		return nil
	case "force":
		if version < 0 {
			return errors.New("force requires --version")
		}
		if err := mg.Force(version); err != nil {
			return err
		}
		log.Info("forced migration version", slog.Int("version", version))
		return nil
	default:
		return fmt.Errorf("unknown command %q (supported: up, down, version, force)", command)
	}

	v, _, err := mg.Version()
	if err != nil {
		return err
	}
	log.Info("migrations applied", slog.String("command", command), slog.Uint64("version", uint64(v)))
	return nil
}
