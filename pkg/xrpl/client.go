package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// NetworkMode selects how submissions are confirmed.
type NetworkMode string

const (
	// ModeStandalone targets a standalone rippled: the ledger does not
	// advance on its own, so the caller issues ledger_accept after submit.
	ModeStandalone NetworkMode = "standalone"
	// ModeLive targets a network that closes ledgers by consensus.
	ModeLive NetworkMode = "live"
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("xrpl: client closed")

// Error is a rippled-reported failure, either from the protocol error
// envelope or from a non-success engine_result.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "xrpl: " + e.Code
	}
	return fmt.Sprintf("xrpl: %s: %s", e.Code, e.Message)
}

// Client is a JSON-over-websocket rippled client. Requests carry an id;
// responses are correlated back to the waiting caller via a pending map.
type Client struct {
	mode NetworkMode

	writeMu sync.Mutex
	ws      *websocket.Conn

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan callResult
	closed  bool
	done    chan struct{}
}

type callResult struct {
	raw json.RawMessage
	err error
}

// Dial connects to a rippled websocket endpoint.
func Dial(ctx context.Context, url string, mode NetworkMode) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("xrpl: dial %s: %w", url, err)
	}
	c := &Client{
		mode:    mode,
		ws:      ws,
		pending: make(map[uint64]chan callResult),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Mode returns the configured network mode.
func (c *Client) Mode() NetworkMode { return c.mode }

// Close tears down the connection and fails all waiting calls.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.ws.Close()
}

type response struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Result       json.RawMessage `json:"result"`
	ErrorCode    string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.failAll(err)
			return
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			zap.L().Warn("xrpl: undecodable frame", zap.Error(err))
			continue
		}
		if resp.Type != "response" {
			// Stream messages (ledger closes etc.) are not subscribed to.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			continue
		}
		if resp.Status != "success" {
			ch <- callResult{err: &Error{Code: resp.ErrorCode, Message: resp.ErrorMessage}}
			continue
		}
		ch <- callResult{raw: resp.Result}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if !c.closed {
		zap.L().Warn("xrpl: connection lost", zap.Error(err))
	}
}

// call sends one command and blocks for its correlated response.
func (c *Client) call(ctx context.Context, command string, params map[string]any, out any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := make(map[string]any, len(params)+2)
	for k, v := range params {
		req[k] = v
	}
	req["id"] = id
	req["command"] = command

	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("xrpl: write %s: %w", command, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if res.err != nil {
			return res.err
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(res.raw, out)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// SubmitResult is the interesting part of a submit response.
type SubmitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              TxInfo `json:"tx_json"`
}

// TxInfo is a transaction as echoed back by submit or returned by tx.
type TxInfo struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Amount          string          `json:"Amount"`
	Sequence        uint32          `json:"Sequence"`
	Meta            json.RawMessage `json:"meta"`
}

// Submit signs and submits tx with the account secret. Engine results other
// than tesSUCCESS and tec-class queue states surface as *Error.
func (c *Client) Submit(ctx context.Context, secret string, tx map[string]any) (*SubmitResult, error) {
	var res SubmitResult
	err := c.call(ctx, "submit", map[string]any{
		"secret":  secret,
		"tx_json": tx,
	}, &res)
	if err != nil {
		return nil, err
	}
	switch res.EngineResult {
	case "tesSUCCESS", "terQUEUED":
	default:
		return nil, &Error{Code: res.EngineResult, Message: res.EngineResultMessage}
	}
	return &res, nil
}

// Tx fetches a validated transaction with its metadata.
func (c *Client) Tx(ctx context.Context, hash string) (*TxInfo, error) {
	var res TxInfo
	if err := c.call(ctx, "tx", map[string]any{"transaction": hash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LedgerAccept advances a standalone ledger by one close. Rejected by
// networked rippled servers; callers gate on Mode.
func (c *Client) LedgerAccept(ctx context.Context) error {
	return c.call(ctx, "ledger_accept", nil, nil)
}

// Channel is one row of an account_channels response.
type Channel struct {
	ChannelID          string `json:"channel_id"`
	Account            string `json:"account"`
	DestinationAccount string `json:"destination_account"`
	Amount             string `json:"amount"`
	Balance            string `json:"balance"`
	SettleDelay        uint32 `json:"settle_delay"`
	PublicKey          string `json:"public_key"`
}

// AccountChannels lists payment channels owned by account, optionally
// narrowed to one destination.
func (c *Client) AccountChannels(ctx context.Context, account, destination string) ([]Channel, error) {
	params := map[string]any{"account": account}
	if destination != "" {
		params["destination_account"] = destination
	}
	var res struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.call(ctx, "account_channels", params, &res); err != nil {
		return nil, err
	}
	return res.Channels, nil
}

// AccountInfo returns the account's root entry: XRP balance in drops and the
// current transaction sequence.
func (c *Client) AccountInfo(ctx context.Context, account string) (*AccountData, error) {
	var res struct {
		AccountData AccountData `json:"account_data"`
	}
	err := c.call(ctx, "account_info", map[string]any{
		"account":      account,
		"ledger_index": "current",
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res.AccountData, nil
}

// AccountData is the ledger's account root entry.
type AccountData struct {
	Account  string `json:"Account"`
	Balance  string `json:"Balance"`
	Sequence uint32 `json:"Sequence"`
}

// ServerInfo reports basic server state, used for connectivity checks.
func (c *Client) ServerInfo(ctx context.Context) (json.RawMessage, error) {
	var res struct {
		Info json.RawMessage `json:"info"`
	}
	if err := c.call(ctx, "server_info", nil, &res); err != nil {
		return nil, err
	}
	return res.Info, nil
}
