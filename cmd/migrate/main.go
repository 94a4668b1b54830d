package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
)

// migrateLogger adapts zerolog to migrate.Logger.
type migrateLogger struct {
	log     zerolog.Logger
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Info().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool { return l.verbose }

func main() {
	migrationDir := flag.String("path", "migrations", "Path to migration files")
	verbose := flag.Bool("v", false, "Log every applied migration")
	flag.Usage = printUsage
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "migrate").Logger()

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+*migrationDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", *migrationDir).Msg("Migration failed to initialize")
	}
	defer m.Close()
	m.Log = migrateLogger{log: log, verbose: *verbose}

	if err := run(m, args); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Msg("Schema is empty")
	case err != nil:
		log.Warn().Err(err).Msg("Could not read schema version")
	default:
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	}
}

func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		return ignoreNoChange(m.Up())
	case "down":
		return ignoreNoChange(m.Down())
	case "steps":
		n, err := intArg(args, "steps")
		if err != nil {
			return err
		}
		return ignoreNoChange(m.Steps(n))
	case "force":
		v, err := intArg(args, "force")
		if err != nil {
			return err
		}
		return m.Force(v)
	case "version":
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func intArg(args []string, command string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a number", command)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", command, args[1])
	}
	return n, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [flags] <command>")
	fmt.Fprintln(os.Stderr, "Commands: up, down, steps <n>, force <version>, version")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}
