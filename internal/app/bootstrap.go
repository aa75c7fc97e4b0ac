// Package app holds the bootstrap wiring shared by the api and worker
// binaries.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/kasira-dev/fees-engine/migrations"
)

// MigrateUp applies the embedded schema migrations against databaseURL.
// Already-applied versions are skipped.
func MigrateUp(databaseURL string, logger zerolog.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrations applied")
	return nil
}

// NewAdminLimiter builds the Redis-backed rate limiter for the admin
// surface. The rate uses limiter's formatted notation, e.g. "60-M".
func NewAdminLimiter(rdb *redis.Client, formatted string) (*limiter.Limiter, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "limiter:admin"})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("limiter rate %q: %w", formatted, err)
	}
	return limiter.New(store, rate), nil
}

var paymentMethodPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,31}$`)

// NewValidator returns the request validator with domain checks registered.
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("paymentmethod", validatePaymentMethod); err != nil {
		return nil, fmt.Errorf("register paymentmethod validation: %w", err)
	}
	return v, nil
}

func validatePaymentMethod(fl validator.FieldLevel) bool {
	return paymentMethodPattern.MatchString(fl.Field().String())
}
