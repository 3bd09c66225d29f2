package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
	MaxOpenConns      int
	MaxIdleConns      int
}

// Repository is the PostgreSQL implementation of store.Store.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ store.Store = (*Repository)(nil)

func NewRepository(cred *Credentials, logger *zap.Logger) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	maxOpen, maxIdle := cred.MaxOpenConns, cred.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	logger.Info("connected to postgres", zap.String("host", cred.Host), zap.String("db", cred.DBName))
	return &Repository{db: db, logger: logger}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "sales_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// WithTx runs fn in a READ COMMITTED transaction. Callers that need a
// consistent read-then-write take row locks through LockOrder and
// LockProduct.
func (r *Repository) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(&pgTx{tx: sqlTx}); err != nil {
		return markTransient(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return markTransient(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events
	          WHERE processed_at IS NULL
	          ORDER BY created_at
	          LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id string) error {
	query := `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// markTransient tags deadlocks, lock timeouts and serialization failures
// with store.ErrTransientConflict.
func markTransient(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40P01", "55P03", "40001":
		return fmt.Errorf("%w: %w", store.ErrTransientConflict, err)
	}
	return err
}

// mapConstraintError translates unique and foreign key violations into
// store errors.
func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505":
		switch pqErr.Constraint {
		case "products_internal_reference_key":
			return store.ErrDuplicateReference
		case "sales_order_lines_order_product_key":
			return store.ErrDuplicateLine
		case "reservations_order_product_key":
			return store.ErrDuplicateReservation
		case "sales_orders_number_key":
			return store.ErrDuplicateNumber
		case "customers_email_key":
			return store.ErrDuplicateEmail
		}
	case "23503":
		switch pqErr.Constraint {
		case "sales_orders_customer_id_fkey":
			return store.ErrCustomerNotFound
		case "sales_order_lines_product_id_fkey", "reservations_product_id_fkey":
			return store.ErrProductNotFound
		case "sales_order_lines_order_id_fkey", "reservations_order_id_fkey":
			return store.ErrOrderNotFound
		}
	}
	return err
}
