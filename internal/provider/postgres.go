package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// PostgresProvider serves histories from a Postgres schema holding the
// same three tables as the CSV layout:
//
//	CREATE TABLE sales (
//	  item_id TEXT NOT NULL, dept_id TEXT NOT NULL, cat_id TEXT NOT NULL,
//	  store_id TEXT NOT NULL, state_id TEXT NOT NULL,
//	  d INT NOT NULL, sales DOUBLE PRECISION NOT NULL,
//	  PRIMARY KEY (item_id, store_id, d)
//	);
//	CREATE TABLE calendar (
//	  d INT PRIMARY KEY, date DATE NOT NULL, wm_yr_wk INT NOT NULL,
//	  wday INT NOT NULL, month INT NOT NULL, year INT NOT NULL,
//	  event_name_1 TEXT, event_name_2 TEXT,
//	  snap_ca BOOL NOT NULL, snap_tx BOOL NOT NULL, snap_wi BOOL NOT NULL
//	);
//	CREATE TABLE sell_prices (
//	  store_id TEXT NOT NULL, item_id TEXT NOT NULL,
//	  wm_yr_wk INT NOT NULL, sell_price DOUBLE PRECISION NOT NULL,
//	  PRIMARY KEY (store_id, item_id, wm_yr_wk)
//	);
//
// The category codes come from the persisted code table, exactly as in the
// CSV path, so a series encodes identically regardless of backend.
type PostgresProvider struct {
	pool  *pgxpool.Pool
	codes codeEncoder
}

// codeEncoder is the slice of feature.CodeTable this provider needs.
type codeEncoder interface {
	Encode(itemID, deptID, catID, storeID, stateID string) api.Codes
}

// NewPostgresProvider connects a pool and verifies it with a ping.
func NewPostgresProvider(ctx context.Context, connStr string, codes codeEncoder) (*PostgresProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &PostgresProvider{pool: pool, codes: codes}, nil
}

// Series implements HistoryProvider with a single ordered join.
func (p *PostgresProvider) Series(ctx context.Context, key api.SeriesKey) (*api.Series, error) {
	var deptID, catID, stateID string
	err := p.pool.QueryRow(ctx, `
		SELECT dept_id, cat_id, state_id
		FROM sales
		WHERE item_id = $1 AND store_id = $2
		LIMIT 1
	`, key.ItemID, key.StoreID).Scan(&deptID, &catID, &stateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", api.ErrUnknownSeries, key.ID())
		}
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT c.date, c.wm_yr_wk, c.wday, c.month, c.year,
		       COALESCE(c.event_name_1, ''), COALESCE(c.event_name_2, ''),
		       c.snap_ca, c.snap_tx, c.snap_wi,
		       s.sales, COALESCE(sp.sell_price, 0)
		FROM sales s
		JOIN calendar c ON c.d = s.d
		LEFT JOIN sell_prices sp
		  ON sp.store_id = s.store_id AND sp.item_id = s.item_id
		 AND sp.wm_yr_wk = c.wm_yr_wk
		WHERE s.item_id = $1 AND s.store_id = $2
		ORDER BY s.d
	`, key.ItemID, key.StoreID)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var obs []api.Observation
	for rows.Next() {
		var cal api.CalendarDay
		var o api.Observation
		if err := rows.Scan(&cal.Date, &cal.WmYrWk, &cal.Wday, &cal.Month, &cal.Year,
			&cal.EventName1, &cal.EventName2,
			&cal.SnapCA, &cal.SnapTX, &cal.SnapWI,
			&o.Sales, &o.SellPrice); err != nil {
			return nil, fmt.Errorf("postgres scan failed: %w", err)
		}
		o.Date = cal.Date
		o.Calendar = cal
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows failed: %w", err)
	}

	return &api.Series{
		Key:   key,
		Codes: p.codes.Encode(key.ItemID, deptID, catID, key.StoreID, stateID),
		Obs:   obs,
	}, nil
}

// Keys implements HistoryProvider.
func (p *PostgresProvider) Keys(ctx context.Context) ([]api.SeriesKey, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT item_id, store_id FROM sales ORDER BY item_id, store_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var keys []api.SeriesKey
	for rows.Next() {
		var k api.SeriesKey
		if err := rows.Scan(&k.ItemID, &k.StoreID); err != nil {
			return nil, fmt.Errorf("postgres scan failed: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Items implements HistoryProvider.
func (p *PostgresProvider) Items(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, `SELECT DISTINCT item_id FROM sales ORDER BY item_id`)
}

// Stores implements HistoryProvider.
func (p *PostgresProvider) Stores(ctx context.Context) ([]string, error) {
	return p.distinct(ctx, `SELECT DISTINCT store_id FROM sales ORDER BY store_id`)
}

func (p *PostgresProvider) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres scan failed: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ForwardPrice implements PriceProvider.
func (p *PostgresProvider) ForwardPrice(key api.SeriesKey, wmYrWk int) (float64, bool) {
	var price float64
	err := p.pool.QueryRow(context.Background(), `
		SELECT sell_price FROM sell_prices
		WHERE store_id = $1 AND item_id = $2 AND wm_yr_wk = $3
	`, key.StoreID, key.ItemID, wmYrWk).Scan(&price)
	if err != nil {
		return 0, false
	}
	return price, true
}

// Close releases the pool.
func (p *PostgresProvider) Close() {
	p.pool.Close()
}
