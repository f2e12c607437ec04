// Command migrate applies or rolls back the cntrade journal schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachpo/cntrade/internal/infra/config"
	"github.com/coachpo/cntrade/internal/infra/persistence/migrations"
)

const defaultTimeout = 30 * time.Second

type command struct {
	action string
	steps  int
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var (
		dsn     = fs.String("database", "", "PostgreSQL DSN (default: $"+config.EnvVarDatabaseDSN+")")
		dir     = fs.String("path", "", "Directory containing SQL migrations (default: migrations embedded in the binary)")
		envFile = fs.String("env-file", ".env", "Optional dotenv file consulted for the DSN")
		timeout = fs.Duration("timeout", defaultTimeout, "Maximum time to wait for database connectivity")
		quiet   = fs.Bool("quiet", false, "Suppress informational logs")
	)
	if err := fs.Parse(argv); err != nil {
		return err
	}

	cmd, err := parseCommand(fs.Args())
	if err != nil {
		return err
	}

	resolved, err := resolveDSN(*dsn, *envFile)
	if err != nil {
		return err
	}

	var logger *log.Logger
	if !*quiet {
		logger = log.New(out, "cntrade-migrate ", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd.action {
	case "up":
		return migrations.Apply(ctx, resolved, *dir, logger)
	default:
		return migrations.Rollback(ctx, resolved, *dir, cmd.steps, logger)
	}
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("command required (up|down)")
	}
	switch args[0] {
	case "up":
		return command{action: "up"}, nil
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return command{}, fmt.Errorf("invalid down steps %q: %w", args[1], err)
			}
			if n <= 0 {
				return command{}, fmt.Errorf("invalid down steps %d: must be >0", n)
			}
			steps = n
		}
		return command{action: "down", steps: steps}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q (expected up or down)", args[0])
	}
}

func resolveDSN(flagValue, envFile string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv(config.EnvVarDatabaseDSN)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("-database flag or %s is required", config.EnvVarDatabaseDSN)
}
