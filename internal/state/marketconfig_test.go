package state

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"polymarket-mm/pkg/types"
)

func csvRows(t *testing.T, s string) [][]string {
	t.Helper()
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		rows = append(rows, strings.Split(line, ","))
	}
	return rows
}

func TestParseMarketsJoinsOnQuestion(t *testing.T) {
	t.Parallel()

	all := csvRows(t, `question,condition_id,token1,token2,tick_size,neg_risk,1_hour,3_hour,7_day
Will it rain,0xcond1,111,222,0.01,false,0.02,0.03,0.05
Unrelated market,0xcond2,333,444,0.01,false,0,0,0`)

	selected := csvRows(t, `question,min_size,max_spread,trade_size,max_size,multiplier,param_type
Will it rain,20,0.05,100,500,1.0,standard`)

	markets, err := ParseMarkets(selected, all)
	if err != nil {
		t.Fatalf("ParseMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 joined market, got %d", len(markets))
	}
	m := markets[0]
	if m.ConditionID != "0xcond1" || m.Token1 != "111" || m.Token2 != "222" {
		t.Errorf("unexpected joined market: %+v", m)
	}
	if !m.MinSize.Equal(d("20")) {
		t.Errorf("MinSize = %v, want 20", m.MinSize)
	}
	if m.ParamType != "standard" {
		t.Errorf("ParamType = %q, want standard", m.ParamType)
	}
}

func TestParseMarketsSkipsUnmatchedRows(t *testing.T) {
	t.Parallel()

	all := csvRows(t, `question,condition_id,token1,token2
Only in all,0xcond9,1,2`)
	selected := csvRows(t, `question,min_size
Only in selected,20`)

	markets, err := ParseMarkets(selected, all)
	if err != nil {
		t.Fatalf("ParseMarkets: %v", err)
	}
	if len(markets) != 0 {
		t.Errorf("expected no joined rows, got %d", len(markets))
	}
}

func TestParseParamsForwardFillsType(t *testing.T) {
	t.Parallel()

	table := csvRows(t, `type,param,value
standard,stop_loss_threshold,0.1
,take_profit_threshold,0.2
volatile,stop_loss_threshold,0.3
,take_profit_threshold,0.4`)

	params, err := ParseParams(table)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}

	std, ok := params["standard"]
	if !ok {
		t.Fatal("expected standard param group")
	}
	if !std.StopLossThreshold.Equal(d("0.1")) || !std.TakeProfitThreshold.Equal(d("0.2")) {
		t.Errorf("standard group = %+v", std)
	}

	vol, ok := params["volatile"]
	if !ok {
		t.Fatal("expected volatile param group (forward-filled type)")
	}
	if !vol.StopLossThreshold.Equal(d("0.3")) || !vol.TakeProfitThreshold.Equal(d("0.4")) {
		t.Errorf("volatile group = %+v", vol)
	}
}

func TestMarketConfigStoreRefreshHotSwapsOnlyNonEmpty(t *testing.T) {
	t.Parallel()
	s := NewMarketConfigStore()

	m1 := types.MarketInfo{ConditionID: "c1", Token1: "t1", Token2: "t2"}
	s.Refresh([]types.MarketInfo{m1}, map[string]types.PolicyParams{"standard": {}}, nil)

	if _, ok := s.Market("c1"); !ok {
		t.Fatal("expected market c1 to be present after first refresh")
	}

	// Empty markets table on the next refresh must not wipe existing config.
	s.Refresh(nil, nil, nil)
	if _, ok := s.Market("c1"); !ok {
		t.Fatal("market c1 should survive an empty refresh")
	}
}

func TestMarketConfigStoreReverseToken(t *testing.T) {
	t.Parallel()
	s := NewMarketConfigStore()
	s.Refresh([]types.MarketInfo{{ConditionID: "c1", Token1: "yes1", Token2: "no1"}}, nil, nil)

	rev, ok := s.ReverseToken("yes1")
	if !ok || rev != "no1" {
		t.Errorf("ReverseToken(yes1) = %q,%v want no1,true", rev, ok)
	}
	rev, ok = s.ReverseToken("no1")
	if !ok || rev != "yes1" {
		t.Errorf("ReverseToken(no1) = %q,%v want yes1,true", rev, ok)
	}
}

func TestMarketConfigStoreRefreshCallsPendingBuckets(t *testing.T) {
	t.Parallel()
	s := NewMarketConfigStore()

	var seen [][2]string
	s.Refresh([]types.MarketInfo{{ConditionID: "c1", Token1: "y", Token2: "n"}}, nil,
		func(t1, t2 string) { seen = append(seen, [2]string{t1, t2}) })

	if len(seen) != 1 || seen[0] != [2]string{"y", "n"} {
		t.Errorf("pendingBuckets callback = %v, want [[y n]]", seen)
	}
}

type stubOpener struct {
	content string
	err     error
}

func (s stubOpener) open(string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.content)), nil
}

func TestCSVSourceFetchLocalFiles(t *testing.T) {
	t.Parallel()

	selected := stubOpener{content: "question,min_size\nQ,20\n"}
	src := &CSVSource{
		SelectedPath: "selected.csv",
		AllPath:      "all.csv",
		ParamsPath:   "params.csv",
		Open: func(path string) (io.ReadCloser, error) {
			switch path {
			case "selected.csv":
				return selected.open(path)
			case "all.csv":
				return stubOpener{content: "question,condition_id\nQ,0xc\n"}.open(path)
			case "params.csv":
				return stubOpener{content: "type,param,value\n"}.open(path)
			default:
				return nil, errors.New("unexpected path")
			}
		},
	}

	sel, all, params, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(sel) != 2 || len(all) != 2 || len(params) != 1 {
		t.Errorf("unexpected table shapes: sel=%v all=%v params=%v", sel, all, params)
	}
}

func TestCSVSourceFetchPropagatesOpenError(t *testing.T) {
	t.Parallel()

	src := &CSVSource{
		SelectedPath: "selected.csv",
		Open: func(string) (io.ReadCloser, error) {
			return nil, errors.New("boom")
		},
	}

	_, _, _, err := src.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error from failing Open")
	}
}
