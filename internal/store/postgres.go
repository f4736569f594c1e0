package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sae-pos/api/internal/enum"
	"github.com/sae-pos/api/internal/model"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, restaurant_id, table_no, items, total, stage, receipt_details, created_at`

// Postgres implements OrderStore on a pgx connection pool. Order lines and
// receipt breakdowns are stored as jsonb snapshots; they are immutable
// once written, so there is nothing to normalize.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed order store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Create persists a new intake order in the Live stage.
func (s *Postgres) Create(ctx context.Context, o model.Order) (model.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return model.Order{}, fmt.Errorf("marshal items: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (restaurant_id, table_no, items, total, stage)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+orderColumns,
		o.RestaurantID, o.TableNo, items, decimalToNumeric(o.Total), enum.StageLive)
	return scanOrder(row)
}

func (s *Postgres) FetchLive(ctx context.Context, scope uuid.UUID) ([]model.Order, error) {
	return s.fetchByStage(ctx, scope, enum.StageLive)
}

func (s *Postgres) FetchRecurring(ctx context.Context, scope uuid.UUID) ([]model.Order, error) {
	return s.fetchByStage(ctx, scope, enum.StageRecurring)
}

func (s *Postgres) FetchPast(ctx context.Context, scope uuid.UUID) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE restaurant_id = $1 AND stage = $2
		ORDER BY created_at DESC`,
		scope, enum.StagePast)
	if err != nil {
		return nil, fmt.Errorf("fetch past: %w", err)
	}
	return scanOrders(rows)
}

func (s *Postgres) FetchPastByDate(ctx context.Context, scope uuid.UUID, day time.Time) ([]model.Order, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE restaurant_id = $1 AND stage = $2
		  AND created_at >= $3 AND created_at < $4
		ORDER BY created_at DESC`,
		scope, enum.StagePast, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch past by date: %w", err)
	}
	return scanOrders(rows)
}

func (s *Postgres) fetchByStage(ctx context.Context, scope uuid.UUID, stage string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE restaurant_id = $1 AND stage = $2
		ORDER BY created_at, id`,
		scope, stage)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", stage, err)
	}
	return scanOrders(rows)
}

// Transition updates the stage with an optimistic precondition: the UPDATE
// only matches while the order is still in the expected source stage. No
// matched row means either absence or a concurrent stage change; a follow-up
// read distinguishes the two.
func (s *Postgres) Transition(ctx context.Context, scope uuid.UUID, id int64, from, to string) (model.Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET stage = $1
		WHERE id = $2 AND restaurant_id = $3 AND stage = $4
		RETURNING `+orderColumns,
		to, id, scope, from)

	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, fmt.Errorf("transition order %d: %w", id, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1 AND restaurant_id = $2)`,
		id, scope).Scan(&exists); err != nil {
		return model.Order{}, fmt.Errorf("transition order %d: %w", id, err)
	}
	if !exists {
		return model.Order{}, ErrNotFound
	}
	return model.Order{}, ErrStageConflict
}

// CompleteTable bills a table: every Recurring order for tableNo moves to
// Past with the breakdown attached. Orders are transitioned one by one so
// a partial outcome can be reported per id instead of being aggregated
// away.
func (s *Postgres) CompleteTable(ctx context.Context, scope uuid.UUID, tableNo int, b model.ReceiptBreakdown) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM orders
		WHERE restaurant_id = $1 AND table_no = $2 AND stage = $3
		ORDER BY created_at, id`,
		scope, tableNo, enum.StageRecurring)
	if err != nil {
		return nil, fmt.Errorf("complete table %d: %w", tableNo, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("complete table %d: %w", tableNo, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("complete table %d: %w", tableNo, err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	details, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}

	var completed []model.Order
	failed := make(map[int64]error)
	for _, id := range ids {
		row := s.pool.QueryRow(ctx, `
			UPDATE orders
			SET stage = $1, receipt_details = $2
			WHERE id = $3 AND restaurant_id = $4 AND stage = $5
			RETURNING `+orderColumns,
			enum.StagePast, details, id, scope, enum.StageRecurring)
		o, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				failed[id] = ErrStageConflict
			} else {
				failed[id] = err
			}
			continue
		}
		completed = append(completed, o)
	}

	if len(failed) > 0 {
		perr := &PartialCompletionError{TableNo: tableNo, Failed: failed}
		for _, o := range completed {
			perr.Completed = append(perr.Completed, o.ID)
		}
		return completed, perr
	}
	return completed, nil
}

func (s *Postgres) Delete(ctx context.Context, scope uuid.UUID, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orders WHERE id = $1 AND restaurant_id = $2`,
		id, scope)
	if err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) FetchHistoricalBreakdown(ctx context.Context, scope uuid.UUID, tableNo int) (model.ReceiptBreakdown, error) {
	var details []byte
	err := s.pool.QueryRow(ctx, `
		SELECT receipt_details
		FROM orders
		WHERE restaurant_id = $1 AND table_no = $2 AND stage = $3
		  AND receipt_details IS NOT NULL
		ORDER BY (receipt_details->>'closedAt') DESC
		LIMIT 1`,
		scope, tableNo, enum.StagePast).Scan(&details)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReceiptBreakdown{}, ErrNoBreakdown
		}
		return model.ReceiptBreakdown{}, fmt.Errorf("fetch breakdown for table %d: %w", tableNo, err)
	}

	var b model.ReceiptBreakdown
	if err := json.Unmarshal(details, &b); err != nil {
		return model.ReceiptBreakdown{}, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	return b, nil
}

// --- Users and restaurant details ---

// GetUserByEmail looks up a back-office account for login.
func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, restaurant_id, email, hashed_password, role
		FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.RestaurantID, &u.Email, &u.HashedPassword, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByID looks up a back-office account by id, used on token refresh.
func (s *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, restaurant_id, email, hashed_password, role
		FROM users WHERE id = $1`,
		id).Scan(&u.ID, &u.RestaurantID, &u.Email, &u.HashedPassword, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// FetchRestaurantDetails loads the receipt header block for a restaurant.
func (s *Postgres) FetchRestaurantDetails(ctx context.Context, scope uuid.UUID) (model.RestaurantDetails, error) {
	var d model.RestaurantDetails
	err := s.pool.QueryRow(ctx, `
		SELECT name, address, phone_number, gstin, fssai
		FROM restaurants WHERE id = $1`,
		scope).Scan(&d.Name, &d.Address, &d.PhoneNumber, &d.GSTIN, &d.FSSAI)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RestaurantDetails{}, ErrNotFound
		}
		return model.RestaurantDetails{}, fmt.Errorf("fetch restaurant details: %w", err)
	}
	return d, nil
}

// --- Row scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o       model.Order
		items   []byte
		details []byte
		total   pgtype.Numeric
	)
	err := row.Scan(&o.ID, &o.RestaurantID, &o.TableNo, &items, &total, &o.Stage, &details, &o.CreatedAt)
	if err != nil {
		return model.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal items: %w", err)
	}
	if len(details) > 0 {
		var b model.ReceiptBreakdown
		if err := json.Unmarshal(details, &b); err != nil {
			return model.Order{}, fmt.Errorf("unmarshal receipt details: %w", err)
		}
		o.ReceiptDetails = &b
	}
	o.Total = numericToDecimal(total)
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
