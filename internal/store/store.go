package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"parts-aggregator/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const priceRuleColumns = `id, brand_filter, category_filter, percent_markup, minimum_margin, active`

// GetActivePriceRules retrieves all active markup rules, oldest first
func (s *Store) GetActivePriceRules(ctx context.Context) ([]models.PriceRule, error) {
	rules := []models.PriceRule{}
	err := s.db.SelectContext(ctx, &rules,
		"SELECT "+priceRuleColumns+" FROM price_rules WHERE active = TRUE ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to select price rules: %w", err)
	}
	return rules, nil
}

const warehouseColumns = `id, article, brand, name, unit_cost, quantity, location, analogs_group`

// SearchWarehouseStock retrieves stock rows for an article, optionally with
// rows sharing its analogs group
func (s *Store) SearchWarehouseStock(ctx context.Context, article, brand string, withAnalogs bool) ([]models.WarehouseStock, error) {
	query := `
		SELECT ` + warehouseColumns + `
		FROM warehouse_stock
		WHERE (lower(article) = $1 AND ($2 = '' OR lower(brand) = $2))
		   OR ($3 AND analogs_group IN (
				SELECT analogs_group FROM warehouse_stock
				WHERE lower(article) = $1 AND ($2 = '' OR lower(brand) = $2) AND analogs_group IS NOT NULL))
		ORDER BY id`

	rows := []models.WarehouseStock{}
	err := s.db.SelectContext(ctx, &rows, query,
		strings.ToLower(strings.TrimSpace(article)),
		strings.ToLower(strings.TrimSpace(brand)),
		withAnalogs)
	if err != nil {
		return nil, fmt.Errorf("failed to search warehouse stock: %w", err)
	}
	return rows, nil
}

// GetWarehouseStock retrieves one stock row by ID
func (s *Store) GetWarehouseStock(ctx context.Context, id int64) (*models.WarehouseStock, error) {
	var row models.WarehouseStock
	err := s.db.GetContext(ctx, &row,
		"SELECT "+warehouseColumns+" FROM warehouse_stock WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("warehouse stock %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
