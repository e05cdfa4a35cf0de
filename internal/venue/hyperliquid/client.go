// internal/venue/hyperliquid/client.go
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

const (
	mainnetInfoURL = "https://api.hyperliquid.xyz/info"
	mainnetWSURL   = "wss://api.hyperliquid.xyz/ws"

	requestTimeout = 10 * time.Second
)

// Client reads account state from the Hyperliquid info API. Order placement
// requires a signing wallet which this build does not carry, so PlaceOrder
// reports the gap instead of guessing.
type Client struct {
	infoURL    string
	wsURL      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a mainnet client.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		infoURL:    mainnetInfoURL,
		wsURL:      mainnetWSURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.Named("hyperliquid"),
	}
}

// NewClientWithURL creates a client against a custom info endpoint. Used by
// tests and testnet runs.
func NewClientWithURL(infoURL, wsURL string, logger *zap.Logger) *Client {
	c := NewClient(logger)
	c.infoURL = infoURL
	c.wsURL = wsURL
	return c
}

// NewFillWatcher creates a fill stream watcher for the given account against
// this client's websocket endpoint.
func (c *Client) NewFillWatcher(address string) *FillWatcher {
	return NewFillWatcher(c.wsURL, address, c.logger)
}

// Probe verifies the info endpoint answers for the given address, retrying
// with exponential backoff. Called once at startup before the sync loop runs.
func (c *Client) Probe(ctx context.Context, address string) error {
	c.logger.Debug("Probing info endpoint", zap.String("address", address))
	operation := func() (struct{}, error) {
		_, err := c.FetchAccountState(ctx, address)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		return fmt.Errorf("hyperliquid probe failed: %w", err)
	}
	return nil
}

// FetchAccountState fetches and normalizes the clearinghouse state.
func (c *Client) FetchAccountState(ctx context.Context, address string) (*AccountState, error) {
	var raw clearinghouseState
	if err := c.post(ctx, map[string]string{"type": "clearinghouseState", "user": address}, &raw); err != nil {
		return nil, err
	}

	state := &AccountState{
		AccountValue: parseFloat(raw.MarginSummary.AccountValue),
		Withdrawable: parseFloat(raw.Withdrawable),
	}
	for _, ap := range raw.AssetPositions {
		pos, ok := normalizePosition(ap.Position)
		if !ok {
			continue
		}
		state.Positions = append(state.Positions, pos)
	}
	return state, nil
}

// FetchLastFillTime returns the time of the most recent fill, or zero time
// when the account has no fills.
func (c *Client) FetchLastFillTime(ctx context.Context, address string) (time.Time, error) {
	var fills []userFill
	if err := c.post(ctx, map[string]string{"type": "userFills", "user": address}, &fills); err != nil {
		return time.Time{}, err
	}
	if len(fills) == 0 {
		return time.Time{}, nil
	}

	// Fills arrive newest first, but scan anyway in case the order changes.
	var latest int64
	for _, f := range fills {
		if f.Time > latest {
			latest = f.Time
		}
	}
	return time.UnixMilli(latest), nil
}

// PlaceOrder would submit a signed order to the exchange endpoint. Signing is
// not wired in this build, so the caller gets an explicit refusal.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	return "", fmt.Errorf("exchange signing not configured; enable dry_run or supply a signer")
}

// Close is a no-op; the HTTP client holds no persistent connections worth
// tearing down explicitly.
func (c *Client) Close() error { return nil }

func (c *Client) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal info request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("info request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("info endpoint returned status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode info response: %w", err)
	}
	return nil
}

// normalizePosition converts a raw clearinghouse position. The sign of szi
// carries the side; a zero szi means the slot is empty.
func normalizePosition(raw rawPosition) (types.Position, bool) {
	szi := parseFloat(raw.Szi)
	if szi == 0 {
		return types.Position{}, false
	}

	side := types.SideLong
	size := szi
	if szi < 0 {
		side = types.SideShort
		size = -szi
	}

	leverage := raw.Leverage.Value
	if leverage <= 0 {
		leverage = 1
	}

	return types.Position{
		Symbol:     raw.Coin,
		Side:       side,
		Size:       size,
		EntryPrice: parseFloat(raw.EntryPx),
		Leverage:   leverage,
		Margin:     parseFloat(raw.MarginUsed),
	}, true
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
