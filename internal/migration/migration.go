package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	authdomain "github.com/studyowl/creditgate/internal/auth/domain"
	auditdomain "github.com/studyowl/creditgate/internal/audit/domain"
	intentdomain "github.com/studyowl/creditgate/internal/intent/domain"
	ledgerdomain "github.com/studyowl/creditgate/internal/ledger/domain"
	"gorm.io/gorm"
)

//go:embed sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

// RunPostgres applies the embedded SQL migrations so the service is
// usable out of the box against a fresh postgres database.
func RunPostgres(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema through gorm for the sqlite and mysql
// development paths.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&intentdomain.PaymentIntent{},
		&ledgerdomain.Transaction{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditApplication{},
		&auditdomain.AuditLog{},
		&authdomain.Session{},
	)
}
