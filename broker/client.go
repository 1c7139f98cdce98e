package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// RESTClient talks to the MT5 bridge service over HTTP. The bridge
// wraps the terminal API and answers small JSON payloads; every request
// carries a short timeout so the analysis loop can never stall on the
// network.
type RESTClient struct {
	Config *config.Config
	Logger logging.LoggerInterface
	client *http.Client
}

var _ interfaces.Broker = (*RESTClient)(nil)

// NewRESTClient creates a bridge client with the configured timeout.
func NewRESTClient(cfg *config.Config, logger logging.LoggerInterface) *RESTClient {
	return &RESTClient{
		Config: cfg,
		Logger: logger,
		client: &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond},
	}
}

// envelope is the common bridge response wrapper.
type envelope struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (c *RESTClient) get(path string, q url.Values, out interface{}) error {
	u := c.Config.BridgeRESTHost + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := c.client.Get(u)
	if err != nil {
		return fmt.Errorf("bridge GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decode(path, resp, out)
}

func (c *RESTClient) post(path string, payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bridge POST %s: marshal: %w", path, err)
	}
	if c.Logger != nil {
		c.Logger.Debug("Bridge POST %s: %s", path, raw)
	}
	resp, err := c.client.Post(c.Config.BridgeRESTHost+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("bridge POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decode(path, resp, out)
}

func (c *RESTClient) decode(path string, resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bridge %s: read: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge %s: status %d: %s", path, resp.StatusCode, body)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bridge %s: parse: %w", path, err)
	}
	if !env.OK {
		return fmt.Errorf("bridge %s: %s", path, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("bridge %s: parse data: %w", path, err)
		}
	}
	return nil
}

// GetTick returns the latest top-of-book quote. The bridge answers the
// last known tick with fresh=false when nothing new arrived, so the
// caller can skip the cycle without blocking.
func (c *RESTClient) GetTick() (models.Tick, error) {
	q := url.Values{}
	q.Set("symbol", c.Config.Symbol)
	var t models.Tick
	if err := c.get("/tick", q, &t); err != nil {
		return models.Tick{}, err
	}
	return t, nil
}

// GetCandles returns up to count OHLCV bars, most-recent-last.
func (c *RESTClient) GetCandles(timeframe string, count int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", c.Config.Symbol)
	q.Set("timeframe", timeframe)
	q.Set("count", strconv.Itoa(count))
	var candles []models.Candle
	if err := c.get("/candles", q, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// OpenPosition submits a market order and returns the broker ticket.
func (c *RESTClient) OpenPosition(direction string, volume, price, sl, tp float64, comment string, magic int) (int64, error) {
	payload := map[string]interface{}{
		"symbol":    c.Config.Symbol,
		"direction": direction,
		"volume":    volume,
		"price":     price,
		"sl":        sl,
		"tp":        tp,
		"comment":   comment,
		"magic":     magic,
	}
	var out struct {
		Ticket int64 `json:"ticket"`
	}
	if err := c.post("/order", payload, &out); err != nil {
		return 0, err
	}
	if out.Ticket == 0 {
		return 0, fmt.Errorf("bridge /order: no ticket returned")
	}
	return out.Ticket, nil
}

// ModifyPosition updates SL/TP on an open ticket.
func (c *RESTClient) ModifyPosition(ticket int64, sl, tp float64) error {
	payload := map[string]interface{}{
		"ticket": ticket,
		"sl":     sl,
		"tp":     tp,
	}
	return c.post("/modify", payload, nil)
}

// ClosePosition closes an open ticket at market.
func (c *RESTClient) ClosePosition(ticket int64) error {
	return c.post("/close", map[string]interface{}{"ticket": ticket}, nil)
}

// GetOpenPositions lists the open positions for symbol, all magics
// included; the caller filters by its own magic.
func (c *RESTClient) GetOpenPositions(symbol string) ([]models.BrokerPosition, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var positions []models.BrokerPosition
	if err := c.get("/positions", q, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetAccountInfo returns the account equity/margin snapshot.
func (c *RESTClient) GetAccountInfo() (models.AccountInfo, error) {
	var acc models.AccountInfo
	if err := c.get("/account", nil, &acc); err != nil {
		return models.AccountInfo{}, err
	}
	return acc, nil
}

// GetInstrumentInfo returns the volume/price constraints for symbol.
func (c *RESTClient) GetInstrumentInfo(symbol string) (models.InstrumentInfo, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var info models.InstrumentInfo
	if err := c.get("/instrument", q, &info); err != nil {
		return models.InstrumentInfo{}, err
	}
	if info.Point <= 0 {
		info.Point = 0.01
		if c.Logger != nil {
			c.Logger.Warning("Point invalide pour %s, valeur de repli %.2f", symbol, info.Point)
		}
	}
	return info, nil
}

// GetClosedProfitSince sums the realized profit of deals closed at or
// after from for the given magic.
func (c *RESTClient) GetClosedProfitSince(from time.Time, magic int) (float64, error) {
	q := url.Values{}
	q.Set("symbol", c.Config.Symbol)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("magic", strconv.Itoa(magic))
	var out struct {
		Profit float64 `json:"profit"`
	}
	if err := c.get("/deals/profit", q, &out); err != nil {
		return 0, err
	}
	return out.Profit, nil
}
