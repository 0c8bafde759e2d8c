package provider

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/calendar"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/feature"
)

// M5 file names inside the data directory.
const (
	calendarFile = "calendar.csv"
	pricesFile   = "sell_prices.csv"
	salesFile    = "sales_train_validation.csv"
)

type priceKey struct {
	storeID string
	itemID  string
	wmYrWk  int
}

type seriesMeta struct {
	itemID  string
	deptID  string
	catID   string
	storeID string
	stateID string
	offset  int64 // byte offset of the series' line in the sales file
}

// CSVProvider reads the M5 dataset: a wide sales file (one row per series,
// one column per day), a calendar table keyed by day index, and a price
// table keyed by (store, item, wm_yr_wk). Rows are melted to daily
// observations on demand; only a per-series offset index is held in
// memory, so startup cost is one sequential scan of each file.
type CSVProvider struct {
	dataDir string
	days    []api.CalendarDay // calendar rows in d_1..d_N order
	prices  map[priceKey]float64
	meta    map[string]seriesMeta // series id -> meta
	codes   *feature.CodeTable
	numDays int // sales day columns present (calendar may extend further)
}

// NewCSVProvider scans the data directory and builds the lookup indexes.
// If codes is nil a deterministic table is built from the sales file's own
// id sets; passing the persisted training-time table is preferred.
func NewCSVProvider(dataDir string, codes *feature.CodeTable) (*CSVProvider, error) {
	p := &CSVProvider{
		dataDir: dataDir,
		prices:  make(map[priceKey]float64),
		meta:    make(map[string]seriesMeta),
		codes:   codes,
	}

	if err := p.loadCalendar(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", calendarFile, err)
	}
	if err := p.loadPrices(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", pricesFile, err)
	}
	if err := p.indexSales(); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", salesFile, err)
	}

	if p.codes == nil {
		p.codes = p.buildCodeTable()
	}
	return p, nil
}

func (p *CSVProvider) loadCalendar() error {
	f, err := os.Open(filepath.Join(p.dataDir, calendarFile))
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return err
	}
	col := columnIndex(header)

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		date, err := time.Parse("2006-01-02", rec[col["date"]])
		if err != nil {
			return fmt.Errorf("bad date %q: %w", rec[col["date"]], err)
		}

		day := api.CalendarDay{
			Date:       date,
			WmYrWk:     atoi(rec[col["wm_yr_wk"]]),
			Wday:       atoi(rec[col["wday"]]),
			Month:      atoi(rec[col["month"]]),
			Year:       atoi(rec[col["year"]]),
			EventName1: rec[col["event_name_1"]],
			EventName2: rec[col["event_name_2"]],
			SnapCA:     rec[col["snap_CA"]] == "1",
			SnapTX:     rec[col["snap_TX"]] == "1",
			SnapWI:     rec[col["snap_WI"]] == "1",
		}
		p.days = append(p.days, day)
	}
	if len(p.days) == 0 {
		return fmt.Errorf("calendar is empty")
	}
	return nil
}

func (p *CSVProvider) loadPrices() error {
	f, err := os.Open(filepath.Join(p.dataDir, pricesFile))
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return err
	}
	col := columnIndex(header)

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		price, err := strconv.ParseFloat(rec[col["sell_price"]], 64)
		if err != nil {
			return fmt.Errorf("bad sell_price %q: %w", rec[col["sell_price"]], err)
		}
		p.prices[priceKey{
			storeID: rec[col["store_id"]],
			itemID:  rec[col["item_id"]],
			wmYrWk:  atoi(rec[col["wm_yr_wk"]]),
		}] = price
	}
	return nil
}

// indexSales records the byte offset and identifying columns of every
// series row without materializing the day columns.
func (p *CSVProvider) indexSales() error {
	f, err := os.Open(filepath.Join(p.dataDir, salesFile))
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	header, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	p.numDays = strings.Count(header, ",d_")
	if p.numDays == 0 {
		return fmt.Errorf("sales header has no day columns")
	}
	if p.numDays > len(p.days) {
		return fmt.Errorf("sales file has %d day columns but calendar has %d days",
			p.numDays, len(p.days))
	}

	offset := int64(len(header))
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			// Only the first six id columns matter here.
			fields := strings.SplitN(line, ",", 7)
			if len(fields) >= 6 {
				key := api.SeriesKey{ItemID: fields[1], StoreID: fields[4]}
				p.meta[key.ID()] = seriesMeta{
					itemID:  fields[1],
					deptID:  fields[2],
					catID:   fields[3],
					storeID: fields[4],
					stateID: fields[5],
					offset:  offset,
				}
			}
			offset += int64(len(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(p.meta) == 0 {
		return fmt.Errorf("sales file has no data rows")
	}
	return nil
}

func (p *CSVProvider) buildCodeTable() *feature.CodeTable {
	var items, depts, cats, stores, states []string
	for _, m := range p.meta {
		items = append(items, m.itemID)
		depts = append(depts, m.deptID)
		cats = append(cats, m.catID)
		stores = append(stores, m.storeID)
		states = append(states, m.stateID)
	}
	return feature.BuildCodeTable(items, depts, cats, stores, states)
}

// Series implements HistoryProvider: melts the series' wide row into daily
// observations joined with calendar and price rows.
func (p *CSVProvider) Series(ctx context.Context, key api.SeriesKey) (*api.Series, error) {
	m, ok := p.meta[key.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownSeries, key.ID())
	}

	f, err := os.Open(filepath.Join(p.dataDir, salesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		return nil, err
	}
	line, err := bufio.NewReaderSize(f, 1<<20).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) < 6+p.numDays {
		return nil, fmt.Errorf("series %s: row has %d columns, want %d",
			key.ID(), len(fields), 6+p.numDays)
	}

	obs := make([]api.Observation, 0, p.numDays)
	for d := 0; d < p.numDays; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cal := p.days[d]
		sales, err := strconv.ParseFloat(fields[6+d], 64)
		if err != nil {
			return nil, fmt.Errorf("series %s day d_%d: bad sales %q", key.ID(), d+1, fields[6+d])
		}
		price := p.prices[priceKey{storeID: m.storeID, itemID: m.itemID, wmYrWk: cal.WmYrWk}]
		obs = append(obs, api.Observation{
			Date:      cal.Date,
			Sales:     sales,
			SellPrice: price, // absent price rows mean the item was not on sale yet: 0
			Calendar:  cal,
		})
	}

	return &api.Series{
		Key:   key,
		Codes: p.codes.Encode(m.itemID, m.deptID, m.catID, m.storeID, m.stateID),
		Obs:   obs,
	}, nil
}

// Keys implements HistoryProvider.
func (p *CSVProvider) Keys(ctx context.Context) ([]api.SeriesKey, error) {
	keys := make([]api.SeriesKey, 0, len(p.meta))
	for _, m := range p.meta {
		keys = append(keys, api.SeriesKey{ItemID: m.itemID, StoreID: m.storeID})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID() < keys[j].ID() })
	return keys, nil
}

// Items implements HistoryProvider.
func (p *CSVProvider) Items(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, m := range p.meta {
		seen[m.itemID] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// Stores implements HistoryProvider.
func (p *CSVProvider) Stores(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, m := range p.meta {
		seen[m.storeID] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// ForwardPrice implements PriceProvider for synthesized forecast days.
func (p *CSVProvider) ForwardPrice(key api.SeriesKey, wmYrWk int) (float64, bool) {
	price, ok := p.prices[priceKey{storeID: key.StoreID, itemID: key.ItemID, wmYrWk: wmYrWk}]
	return price, ok
}

// CalendarTable returns the full loaded calendar, which extends past the
// sales history and therefore doubles as the forward calendar in batch mode.
func (p *CSVProvider) CalendarTable() *calendar.Table {
	return calendar.NewTable(p.days)
}

// CodeTable returns the categorical code table in use.
func (p *CSVProvider) CodeTable() *feature.CodeTable {
	return p.codes
}

// NumSeries returns the number of indexed series.
func (p *CSVProvider) NumSeries() int { return len(p.meta) }

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
