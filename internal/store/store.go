// Package store holds per-symbol, time-ordered market series and serves the
// nearest-time lookups every labeling pass is built on. Series are built once
// per run and read-only afterward; labelers borrow them and never mutate.
package store

import (
	"sort"
)

// Observation is one timestamped market snapshot for a symbol. BestBid,
// BestAsk and FundingRate are nil when the venue did not report them; the
// feature map preserves every raw feature key, using NaN to mark keys that
// were present but carried no usable value.
type Observation struct {
	Symbol      string
	Time        int64
	Price       float64
	BestBid     *float64
	BestAsk     *float64
	FundingRate *float64
	Features    map[string]float64
}

// Tick is one raw price-bearing market event (trade, quote mid, mark price).
type Tick struct {
	Time  int64
	Price float64
}

// SymbolSeries is an ordered sequence of observations for one symbol,
// non-decreasing by time with ties kept in arrival order.
type SymbolSeries struct {
	symbol string
	obs    []Observation
}

// Symbol returns the symbol this series belongs to.
func (s *SymbolSeries) Symbol() string { return s.symbol }

// Len returns the number of observations in the series.
func (s *SymbolSeries) Len() int { return len(s.obs) }

// At returns the observation at index i.
func (s *SymbolSeries) At(i int) Observation { return s.obs[i] }

// FirstAtOrAfter returns the index of the earliest observation with
// time >= t, or false when every observation is earlier.
func (s *SymbolSeries) FirstAtOrAfter(t int64) (int, bool) {
	i := sort.Search(len(s.obs), func(i int) bool { return s.obs[i].Time >= t })
	if i >= len(s.obs) {
		return 0, false
	}
	return i, true
}

// LastAtOrBefore returns the index of the latest observation with
// time <= t, or false when every observation is later.
func (s *SymbolSeries) LastAtOrBefore(t int64) (int, bool) {
	i := sort.Search(len(s.obs), func(i int) bool { return s.obs[i].Time > t })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// Store buckets observations by symbol and keeps each bucket stable-sorted
// by time. Read queries are pure; ingestion is the only mutation.
type Store struct {
	series map[string]*SymbolSeries
}

// New creates an empty snapshot store.
func New() *Store {
	return &Store{series: make(map[string]*SymbolSeries)}
}

// Ingest appends observations to their symbol buckets and restores time
// order with a stable sort, so equal timestamps keep arrival order.
func (st *Store) Ingest(observations []Observation) {
	touched := make(map[string]struct{})
	for _, o := range observations {
		if o.Symbol == "" {
			continue
		}
		s, ok := st.series[o.Symbol]
		if !ok {
			s = &SymbolSeries{symbol: o.Symbol}
			st.series[o.Symbol] = s
		}
		s.obs = append(s.obs, o)
		touched[o.Symbol] = struct{}{}
	}
	for sym := range touched {
		s := st.series[sym]
		sort.SliceStable(s.obs, func(i, j int) bool { return s.obs[i].Time < s.obs[j].Time })
	}
}

// Series returns the series for a symbol, or false when the symbol has no
// observations. Unknown symbols are not an error.
func (st *Store) Series(symbol string) (*SymbolSeries, bool) {
	s, ok := st.series[symbol]
	return s, ok
}

// Symbols returns all symbols with at least one observation, sorted.
func (st *Store) Symbols() []string {
	out := make([]string, 0, len(st.series))
	for sym := range st.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the total observation count across all symbols.
func (st *Store) Len() int {
	n := 0
	for _, s := range st.series {
		n += len(s.obs)
	}
	return n
}

// NearestAtOrAfter returns the index of the earliest observation for symbol
// with time >= t. Missing symbols and exhausted series report not-found.
func (st *Store) NearestAtOrAfter(symbol string, t int64) (int, bool) {
	s, ok := st.series[symbol]
	if !ok {
		return 0, false
	}
	return s.FirstAtOrAfter(t)
}

// NearestAtOrBefore returns the index of the latest observation for symbol
// with time <= t. Missing symbols and pre-history times report not-found.
func (st *Store) NearestAtOrBefore(symbol string, t int64) (int, bool) {
	s, ok := st.series[symbol]
	if !ok {
		return 0, false
	}
	return s.LastAtOrBefore(t)
}

// TickSeries is an ordered sequence of ticks for one symbol, with the same
// ordering invariant as SymbolSeries.
type TickSeries struct {
	symbol string
	ticks  []Tick
}

// Symbol returns the symbol this series belongs to.
func (s *TickSeries) Symbol() string { return s.symbol }

// Len returns the number of ticks in the series.
func (s *TickSeries) Len() int { return len(s.ticks) }

// At returns the tick at index i.
func (s *TickSeries) At(i int) Tick { return s.ticks[i] }

// FirstAtOrAfter returns the index of the earliest tick with time >= t,
// or false when every tick is earlier.
func (s *TickSeries) FirstAtOrAfter(t int64) (int, bool) {
	i := sort.Search(len(s.ticks), func(i int) bool { return s.ticks[i].Time >= t })
	if i >= len(s.ticks) {
		return 0, false
	}
	return i, true
}

// TickStore buckets raw ticks by symbol, stable-sorted by time.
type TickStore struct {
	series map[string]*TickSeries
}

// NewTickStore creates an empty tick store.
func NewTickStore() *TickStore {
	return &TickStore{series: make(map[string]*TickSeries)}
}

// Ingest appends per-symbol ticks and restores time order per bucket.
func (st *TickStore) Ingest(ticks map[string][]Tick) {
	for sym, rows := range ticks {
		if sym == "" || len(rows) == 0 {
			continue
		}
		s, ok := st.series[sym]
		if !ok {
			s = &TickSeries{symbol: sym}
			st.series[sym] = s
		}
		s.ticks = append(s.ticks, rows...)
		sort.SliceStable(s.ticks, func(i, j int) bool { return s.ticks[i].Time < s.ticks[j].Time })
	}
}

// Series returns the tick series for a symbol, or false when absent.
func (st *TickStore) Series(symbol string) (*TickSeries, bool) {
	s, ok := st.series[symbol]
	return s, ok
}

// Symbols returns all symbols with at least one tick, sorted.
func (st *TickStore) Symbols() []string {
	out := make([]string, 0, len(st.series))
	for sym := range st.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the total tick count across all symbols.
func (st *TickStore) Len() int {
	n := 0
	for _, s := range st.series {
		n += len(s.ticks)
	}
	return n
}
