package db

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// Migration directories, one per service database.
const (
	OrderMigrations        = "migrations/order"
	StockMigrations        = "migrations/stock"
	NotificationMigrations = "migrations/notification"
)

// Migrate applies the embedded migrations found in dir.
func (db *PostgresDB) Migrate(dir string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db.Conn, dir); err != nil {
		return fmt.Errorf("failed to apply migrations from %s: %w", dir, err)
	}
	db.log.Info("✅ Migrations applied")
	return nil
}
