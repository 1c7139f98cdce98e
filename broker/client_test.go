package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
)

func newTestClient(handler http.Handler) (*RESTClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	cfg := &config.Config{
		Symbol:         "XAUUSD-m",
		BridgeRESTHost: srv.URL,
		HTTPTimeoutMs:  2000,
	}
	return NewRESTClient(cfg, nil), srv
}

func okEnvelope(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true,"data":` + data + `}`))
}

func TestGetTick(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tick" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "XAUUSD-m" {
			t.Errorf("symbol = %s", got)
		}
		okEnvelope(w, `{"bid":2000.25,"ask":2000.75,"fresh":true}`)
	}))
	defer srv.Close()

	tick, err := c.GetTick()
	if err != nil {
		t.Fatalf("GetTick: %v", err)
	}
	if tick.Bid != 2000.25 || tick.Ask != 2000.75 || !tick.Fresh {
		t.Fatalf("tick = %+v", tick)
	}
	if tick.Mid() != 2000.5 {
		t.Fatalf("mid = %v", tick.Mid())
	}
}

func TestGetCandles(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("timeframe") != "M1" || q.Get("count") != "3" {
			t.Errorf("query = %v", q)
		}
		okEnvelope(w, `[
			{"open":2000,"high":2001,"low":1999,"close":2000.5,"volume":120},
			{"open":2000.5,"high":2002,"low":2000,"close":2001.5,"volume":140},
			{"open":2001.5,"high":2003,"low":2001,"close":2002.5,"volume":160}
		]`)
	}))
	defer srv.Close()

	candles, err := c.GetCandles("M1", 3)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(candles) != 3 || candles[2].Close != 2002.5 {
		t.Fatalf("candles = %+v", candles)
	}
}

func TestOpenPosition(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		if payload["direction"] != "BUY" || payload["magic"] != float64(234000) {
			t.Errorf("payload = %v", payload)
		}
		okEnvelope(w, `{"ticket":987654}`)
	}))
	defer srv.Close()

	ticket, err := c.OpenPosition("BUY", 0.05, 2000.30, 1999.80, 2001.30, "entry", 234000)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if ticket != 987654 {
		t.Fatalf("ticket = %d", ticket)
	}
}

func TestOpenPositionMissingTicket(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okEnvelope(w, `{}`)
	}))
	defer srv.Close()

	if _, err := c.OpenPosition("BUY", 0.05, 2000, 1999, 2001, "", 234000); err == nil {
		t.Fatalf("expected error when the bridge omits the ticket")
	}
}

func TestBridgeErrorEnvelope(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"market closed"}`))
	}))
	defer srv.Close()

	_, err := c.GetTick()
	if err == nil || !strings.Contains(err.Error(), "market closed") {
		t.Fatalf("err = %v, want bridge error surfaced", err)
	}
}

func TestBridgeHTTPError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := c.ClosePosition(1); err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("err = %v, want status error", err)
	}
}

func TestGetInstrumentInfoPointFallback(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okEnvelope(w, `{"min_volume":0.01,"max_volume":100,"volume_step":0.01,"point":0}`)
	}))
	defer srv.Close()

	info, err := c.GetInstrumentInfo("XAUUSD-m")
	if err != nil {
		t.Fatalf("GetInstrumentInfo: %v", err)
	}
	if info.Point != 0.01 {
		t.Fatalf("point = %v, want 0.01 fallback", info.Point)
	}
}

func TestGetClosedProfitSince(t *testing.T) {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("magic") != "234000" {
			t.Errorf("magic = %s", q.Get("magic"))
		}
		if q.Get("from") == "" {
			t.Errorf("missing from timestamp")
		}
		okEnvelope(w, `{"profit":-123.45}`)
	}))
	defer srv.Close()

	profit, err := c.GetClosedProfitSince(from, 234000)
	if err != nil {
		t.Fatalf("GetClosedProfitSince: %v", err)
	}
	if profit != -123.45 {
		t.Fatalf("profit = %v", profit)
	}
}
