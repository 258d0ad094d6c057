package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/noah-isme/esim-admin/internal/app"
	"github.com/noah-isme/esim-admin/internal/obs"
)

func main() {
	dir := flag.String("path", "migrations", "directory holding the migration files")
	steps := flag.Int("steps", 0, "number of migrations to apply with up/down; 0 means all for up and one for down")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL")).With().Str("component", "migrate").Logger()

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		logger.Fatal().Err(app.ErrNoDatabase).Msg("migrate")
	}

	m, err := migrate.New("file://"+*dir, pgx5URL(dsn))
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrations")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Error().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrations")
		}
	}()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	switch cmd {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = app.RunMigrations(m)
		}
	case "down":
		n := *steps
		if n <= 0 {
			n = 1
		}
		err = m.Steps(-n)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if verr != nil {
			logger.Fatal().Err(verr).Msg("read version")
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command; use up, down or version")
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migrate")
	}
	logger.Info().Str("command", cmd).Msg("migrations complete")
}

// pgx5URL switches a postgres DSN to the scheme of the pgx v5 driver.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
