package state

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// TabularSource is the external collaborator interface MarketConfigStore
// reads from. The actual spreadsheet-backed configuration source is out of
// scope (per spec §1); this interface is the seam a future Sheets-backed
// implementation plugs into without MarketConfigStore's join/forward-fill
// logic changing.
type TabularSource interface {
	// Fetch returns the "Selected Markets" rows, the "All Markets" rows, and
	// the "Hyperparameters" rows, each as a CSV-shaped table (header row
	// first). Any table may be empty if the source is temporarily
	// unavailable — MarketConfigStore.Refresh treats empty as "keep
	// previous config".
	Fetch(ctx context.Context) (selected, all, params [][]string, err error)
}

// CSVSource implements TabularSource by reading three CSV tables, each
// addressed by a local path or an http(s) URL (fetched via an injected
// *http.Client, mirroring the public gviz/tq CSV-export fallback the
// original spreadsheet-backed source itself falls back to when it has no
// live credentials).
type CSVSource struct {
	SelectedPath string
	AllPath      string
	ParamsPath   string

	HTTPClient *http.Client // used when a path is an http(s) URL
	Open       func(path string) (io.ReadCloser, error)
}

// Fetch reads and parses all three CSV tables.
func (c *CSVSource) Fetch(ctx context.Context) (selected, all, params [][]string, err error) {
	selected, err = c.readCSV(ctx, c.SelectedPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read selected markets: %w", err)
	}
	all, err = c.readCSV(ctx, c.AllPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read all markets: %w", err)
	}
	params, err = c.readCSV(ctx, c.ParamsPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read hyperparameters: %w", err)
	}
	return selected, all, params, nil
}

func (c *CSVSource) readCSV(ctx context.Context, path string) ([][]string, error) {
	if path == "" {
		return nil, nil
	}

	var r io.ReadCloser
	switch {
	case strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://"):
		client := c.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
		}
		r = resp.Body
	default:
		open := c.Open
		if open == nil {
			return nil, fmt.Errorf("no local file opener configured for %s", path)
		}
		var err error
		r, err = open(path)
		if err != nil {
			return nil, err
		}
	}
	defer r.Close()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

// rowsToMaps converts a CSV table (header row first) into column->value maps.
func rowsToMaps(table [][]string) []map[string]string {
	if len(table) < 2 {
		return nil
	}
	header := table[0]
	out := make([]map[string]string, 0, len(table)-1)
	for _, row := range table[1:] {
		m := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

func decOr(s string, fallback decimal.Decimal) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return v
}

func boolOr(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// ParseMarkets joins the "Selected Markets" and "All Markets" tables on
// "question" (inner join, matching the original tabular source) and builds
// MarketInfo rows, each keyed by condition_id.
func ParseMarkets(selected, all [][]string) ([]types.MarketInfo, error) {
	selRows := rowsToMaps(selected)
	allRows := rowsToMaps(all)
	if len(selRows) == 0 || len(allRows) == 0 {
		return nil, nil
	}

	allByQuestion := make(map[string]map[string]string, len(allRows))
	for _, r := range allRows {
		q := strings.TrimSpace(r["question"])
		if q == "" {
			continue
		}
		allByQuestion[q] = r
	}

	var markets []types.MarketInfo
	for _, s := range selRows {
		q := strings.TrimSpace(s["question"])
		if q == "" {
			continue
		}
		a, ok := allByQuestion[q]
		if !ok {
			continue
		}
		merged := make(map[string]string, len(a)+len(s))
		for k, v := range a {
			merged[k] = v
		}
		for k, v := range s {
			merged[k] = v
		}

		tick := types.TickSize(merged["tick_size"])
		if tick == "" {
			tick = types.Tick001
		}

		markets = append(markets, types.MarketInfo{
			ConditionID: merged["condition_id"],
			Question:    q,
			Token1:      merged["token1"],
			Token2:      merged["token2"],
			TickSize:    tick,
			MinSize:     decOr(merged["min_size"], decimal.NewFromInt(20)),
			MaxSpread:   decOr(merged["max_spread"], decimal.Zero),
			NegRisk:     boolOr(merged["neg_risk"]),
			TradeSize:   decOr(merged["trade_size"], decimal.Zero),
			MaxSize:     decOr(merged["max_size"], decOr(merged["trade_size"], decimal.Zero)),
			Multiplier:  strings.TrimSpace(merged["multiplier"]),
			ParamType:   strings.TrimSpace(merged["param_type"]),

			Volatility1h: decOr(merged["1_hour"], decimal.Zero),
			Volatility3h: decOr(merged["3_hour"], decimal.Zero),
			Volatility7d: decOr(merged["7_day"], decimal.Zero),
		})
	}
	return markets, nil
}

// ParseParams builds PolicyParams by param_type from the "Hyperparameters"
// table: rows are {type, param, value}; an empty type cell means "same
// type as the previous non-empty row" (forward fill), so one type label
// scopes every subsequent row until the next label.
func ParseParams(table [][]string) (map[string]types.PolicyParams, error) {
	rows := rowsToMaps(table)
	if len(rows) == 0 {
		return nil, nil
	}

	raw := make(map[string]map[string]string)
	currentType := ""
	for _, r := range rows {
		if t := strings.TrimSpace(r["type"]); t != "" {
			currentType = t
		}
		if currentType == "" {
			continue
		}
		if raw[currentType] == nil {
			raw[currentType] = make(map[string]string)
		}
		raw[currentType][strings.TrimSpace(r["param"])] = r["value"]
	}

	out := make(map[string]types.PolicyParams, len(raw))
	for paramType, fields := range raw {
		out[paramType] = types.PolicyParams{
			StopLossThreshold:   decOr(fields["stop_loss_threshold"], decimal.Zero),
			TakeProfitThreshold: decOr(fields["take_profit_threshold"], decimal.Zero),
			SpreadThreshold:     decOr(fields["spread_threshold"], decimal.Zero),
			VolatilityThreshold: decOr(fields["volatility_threshold"], decimal.Zero),
			SleepPeriodHours:    decOr(fields["sleep_period"], decimal.NewFromInt(1)),
		}
	}
	return out, nil
}

func atoiOr(s string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return v
}

// MarketConfigStore is MarketConfigStore (C5): market rows and
// policy-param groups, hot-swappable on each periodic market-config refresh.
type MarketConfigStore struct {
	mu            sync.RWMutex
	markets       map[string]types.MarketInfo // by condition_id
	params        map[string]types.PolicyParams
	reverseTokens map[string]string
}

// NewMarketConfigStore creates an empty MarketConfigStore.
func NewMarketConfigStore() *MarketConfigStore {
	return &MarketConfigStore{
		markets:       make(map[string]types.MarketInfo),
		params:        make(map[string]types.PolicyParams),
		reverseTokens: make(map[string]string),
	}
}

// Refresh hot-swaps markets/params: each table replaces the old only if
// non-empty. pendingBuckets is called once per token1/token2 pair so the
// caller (wired to PendingTracker.EnsureBucket) can guarantee
// performing[col] buckets exist for every token x side combination.
func (s *MarketConfigStore) Refresh(markets []types.MarketInfo, params map[string]types.PolicyParams, pendingBuckets func(token1, token2 string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(markets) > 0 {
		nextMarkets := make(map[string]types.MarketInfo, len(markets))
		nextReverse := make(map[string]string, len(markets)*2)
		for _, m := range markets {
			nextMarkets[m.ConditionID] = m
			nextReverse[m.Token1] = m.Token2
			nextReverse[m.Token2] = m.Token1
		}
		s.markets = nextMarkets
		s.reverseTokens = nextReverse

		if pendingBuckets != nil {
			for _, m := range markets {
				pendingBuckets(m.Token1, m.Token2)
			}
		}
	}
	if len(params) > 0 {
		s.params = params
	}
}

// Market returns the market row for conditionID, if known.
func (s *MarketConfigStore) Market(conditionID string) (types.MarketInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[conditionID]
	return m, ok
}

// Params returns the PolicyParams group for paramType, if known.
func (s *MarketConfigStore) Params(paramType string) (types.PolicyParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[paramType]
	return p, ok
}

// ReverseToken returns token's sibling (YES<->NO) in the same market.
func (s *MarketConfigStore) ReverseToken(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.reverseTokens[token]
	return t, ok
}

// AllMarkets returns every known market row.
func (s *MarketConfigStore) AllMarkets() []types.MarketInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.MarketInfo, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out
}

// AllTokens returns every token1/token2 seen across all known markets.
func (s *MarketConfigStore) AllTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.markets)*2)
	for _, m := range s.markets {
		out = append(out, m.Token1, m.Token2)
	}
	return out
}
