package recorder

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
)

// symbolState aggregates the latest view of one symbol across streams.
// Zero values mean "not seen yet"; features are only emitted once a
// stream has populated them.
type symbolState struct {
	bestBid      float64
	bestAsk      float64
	lastTrade    float64
	markPrice    float64
	indexPrice   float64
	fundingRate  float64
	hasFunding   bool
	openInterest float64
	hasOI        bool
	depthBidQty  float64
	depthAskQty  float64
	hasDepth     bool
	updatedMs    int64
}

// bookState holds every tracked symbol.
type bookState struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
}

func newBookState() *bookState {
	return &bookState{symbols: make(map[string]*symbolState)}
}

func (b *bookState) get(symbol string) *symbolState {
	if st, ok := b.symbols[symbol]; ok {
		return st
	}
	st := &symbolState{}
	b.symbols[symbol] = st
	return st
}

func (b *bookState) applyBookTicker(symbol string, bid, ask float64, tsMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(symbol)
	if bid > 0 {
		st.bestBid = bid
	}
	if ask > 0 {
		st.bestAsk = ask
	}
	st.updatedMs = tsMs
}

func (b *bookState) applyMarkPrice(symbol string, mark, index, funding float64, hasFunding bool, tsMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(symbol)
	if mark > 0 {
		st.markPrice = mark
	}
	if index > 0 {
		st.indexPrice = index
	}
	if hasFunding {
		st.fundingRate = funding
		st.hasFunding = true
	}
	st.updatedMs = tsMs
}

func (b *bookState) applyTrade(symbol string, price float64, tsMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(symbol)
	if price > 0 {
		st.lastTrade = price
	}
	st.updatedMs = tsMs
}

func (b *bookState) applyDepth(symbol string, bidQty, askQty float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(symbol)
	st.depthBidQty = bidQty
	st.depthAskQty = askQty
	st.hasDepth = true
}

func (b *bookState) applyOpenInterest(symbol string, oi float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(symbol)
	st.openInterest = oi
	st.hasOI = true
}

// snapshotRow is the JSONL line the ingest side consumes.
type snapshotRow struct {
	Type     string             `json:"type"`
	Symbol   string             `json:"symbol"`
	Time     int64              `json:"time"`
	Price    float64            `json:"price"`
	Features map[string]float64 `json:"features"`
}

// snapshots renders one row per symbol that has a usable price. The
// price is the book mid, falling back to the surviving side, then the
// mark price, then the last trade.
func (b *bookState) snapshots(nowMs int64) []snapshotRow {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := make([]snapshotRow, 0, len(b.symbols))
	for symbol, st := range b.symbols {
		price := 0.0
		switch {
		case st.bestBid > 0 && st.bestAsk > 0:
			price = (st.bestBid + st.bestAsk) / 2
		case st.bestBid > 0:
			price = st.bestBid
		case st.bestAsk > 0:
			price = st.bestAsk
		case st.markPrice > 0:
			price = st.markPrice
		case st.lastTrade > 0:
			price = st.lastTrade
		}
		if price <= 0 {
			continue
		}

		features := make(map[string]float64, 9)
		if st.markPrice > 0 {
			features["markPrice"] = st.markPrice
		}
		if st.indexPrice > 0 {
			features["indexPrice"] = st.indexPrice
		}
		if st.hasFunding {
			features["fundingRate"] = st.fundingRate
		}
		if st.hasOI {
			features["openInterest"] = st.openInterest
		}
		if st.bestBid > 0 {
			features["bestBid"] = st.bestBid
		}
		if st.bestAsk > 0 {
			features["bestAsk"] = st.bestAsk
		}
		if st.bestBid > 0 && st.bestAsk > 0 && price > 0 {
			features["spreadPct"] = (st.bestAsk - st.bestBid) / price * 100
		}
		if st.hasDepth {
			features["depthBidQty"] = st.depthBidQty
			features["depthAskQty"] = st.depthAskQty
		}

		rows = append(rows, snapshotRow{
			Type:     "snapshot",
			Symbol:   symbol,
			Time:     nowMs,
			Price:    price,
			Features: features,
		})
	}
	return rows
}

// Exchange events carry numbers as strings.
func parseNum(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// applyEvent updates state from one decoded stream event. The stream
// suffix decides the shape; unknown suffixes leave state untouched.
func (b *bookState) applyEvent(eventType string, data json.RawMessage, recvMs int64) {
	switch eventType {
	case "bookTicker":
		var ev struct {
			Symbol string          `json:"s"`
			Bid    json.RawMessage `json:"b"`
			Ask    json.RawMessage `json:"a"`
		}
		if json.Unmarshal(data, &ev) != nil || ev.Symbol == "" {
			return
		}
		bid, _ := parseNum(ev.Bid)
		ask, _ := parseNum(ev.Ask)
		b.applyBookTicker(ev.Symbol, bid, ask, recvMs)
	case "markPriceUpdate":
		var ev struct {
			Symbol  string          `json:"s"`
			Mark    json.RawMessage `json:"p"`
			Index   json.RawMessage `json:"i"`
			Funding json.RawMessage `json:"r"`
		}
		if json.Unmarshal(data, &ev) != nil || ev.Symbol == "" {
			return
		}
		mark, _ := parseNum(ev.Mark)
		index, _ := parseNum(ev.Index)
		funding, hasFunding := parseNum(ev.Funding)
		b.applyMarkPrice(ev.Symbol, mark, index, funding, hasFunding, recvMs)
	case "aggTrade":
		var ev struct {
			Symbol string          `json:"s"`
			Price  json.RawMessage `json:"p"`
		}
		if json.Unmarshal(data, &ev) != nil || ev.Symbol == "" {
			return
		}
		price, ok := parseNum(ev.Price)
		if !ok {
			return
		}
		b.applyTrade(ev.Symbol, price, recvMs)
	}
}
