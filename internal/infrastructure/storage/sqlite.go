package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/perp_trade_agent/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// Single connection: sqlite serializes writers anyway, and a pooled
	// :memory: database would otherwise differ per connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			client_order_id TEXT UNIQUE NOT NULL,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			amount REAL NOT NULL,
			price REAL NOT NULL,
			filled_amount REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_strategy_created ON orders(strategy_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			amount REAL NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL NOT NULL DEFAULT 0,
			unrealized_pnl REAL NOT NULL DEFAULT 0,
			realized_pnl REAL NOT NULL DEFAULT 0,
			metadata TEXT,
			opened_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(strategy_id, symbol)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_strategy_symbol ON positions(strategy_id, symbol);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeMetadata(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

// OrderRepository implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	meta, err := encodeMetadata(order.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode order metadata: %w", err)
	}
	query := `INSERT INTO orders (order_id, client_order_id, strategy_id, symbol, side, order_type, amount, price, filled_amount, status, metadata, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		order.OrderID, order.ClientOrderID, order.StrategyID, order.Symbol,
		string(order.Side), string(order.Type), order.Amount, order.Price,
		order.FilledAmount, string(order.Status), meta, order.CreatedAt, order.UpdatedAt)
	return err
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, clientOrderID string, status domain.OrderStatus) error {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE client_order_id = ?`
	res, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), clientOrderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order not found: %s", clientOrderID)
	}
	return nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context, strategyID string, limit int) ([]*domain.Order, error) {
	query := `SELECT order_id, client_order_id, strategy_id, symbol, side, order_type, amount, price, filled_amount, status, metadata, created_at, updated_at
			  FROM orders WHERE strategy_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side, orderType, status string
		var meta sql.NullString
		if err := rows.Scan(&o.OrderID, &o.ClientOrderID, &o.StrategyID, &o.Symbol, &side, &orderType,
			&o.Amount, &o.Price, &o.FilledAmount, &status, &meta, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(orderType)
		o.Status = domain.OrderStatus(status)
		o.Metadata = decodeMetadata(meta)
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// PositionRepository implementation

func (s *SQLiteStore) UpsertPosition(ctx context.Context, pos *domain.Position) error {
	meta, err := encodeMetadata(pos.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode position metadata: %w", err)
	}
	query := `INSERT INTO positions (strategy_id, symbol, side, amount, entry_price, current_price, unrealized_pnl, realized_pnl, metadata, opened_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(strategy_id, symbol) DO UPDATE SET
			  side=excluded.side,
			  amount=excluded.amount,
			  entry_price=excluded.entry_price,
			  current_price=excluded.current_price,
			  unrealized_pnl=excluded.unrealized_pnl,
			  realized_pnl=excluded.realized_pnl,
			  metadata=excluded.metadata,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		pos.StrategyID, pos.Symbol, string(pos.Side), pos.Amount, pos.EntryPrice,
		pos.CurrentPrice, pos.UnrealizedPnL, pos.RealizedPnL, meta, pos.OpenedAt, pos.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, strategyID, symbol string) (*domain.Position, error) {
	query := `SELECT strategy_id, symbol, side, amount, entry_price, current_price, unrealized_pnl, realized_pnl, metadata, opened_at, updated_at
			  FROM positions WHERE strategy_id = ? AND symbol = ?`
	row := s.db.QueryRowContext(ctx, query, strategyID, symbol)

	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var side string
	var meta sql.NullString
	if err := row.Scan(&p.StrategyID, &p.Symbol, &side, &p.Amount, &p.EntryPrice,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &meta, &p.OpenedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Metadata = decodeMetadata(meta)
	return &p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context, strategyID string) ([]*domain.Position, error) {
	query := `SELECT strategy_id, symbol, side, amount, entry_price, current_price, unrealized_pnl, realized_pnl, metadata, opened_at, updated_at
			  FROM positions WHERE strategy_id = ?`
	rows, err := s.db.QueryContext(ctx, query, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, strategyID, symbol string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM positions WHERE strategy_id = ? AND symbol = ?", strategyID, symbol)
	return err
}

func (s *SQLiteStore) SumUnrealizedPnL(ctx context.Context, strategyID string) (float64, error) {
	return s.sumQuery(ctx, `SELECT COALESCE(SUM(unrealized_pnl), 0) FROM positions WHERE strategy_id = ?`, strategyID)
}

func (s *SQLiteStore) SumRealizedPnL(ctx context.Context, strategyID string) (float64, error) {
	return s.sumQuery(ctx, `SELECT COALESCE(SUM(realized_pnl), 0) FROM positions WHERE strategy_id = ?`, strategyID)
}

func (s *SQLiteStore) SumRealizedPnLSince(ctx context.Context, strategyID string, since time.Time) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions WHERE strategy_id = ? AND updated_at >= ?`,
		strategyID, since)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *SQLiteStore) sumQuery(ctx context.Context, query, strategyID string) (float64, error) {
	row := s.db.QueryRowContext(ctx, query, strategyID)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}
