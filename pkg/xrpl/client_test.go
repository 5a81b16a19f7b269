package xrpl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRippled answers each request through handle, echoing the request id.
func fakeRippled(t *testing.T, handle func(req map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var req map[string]any
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			resp := handle(req)
			resp["id"] = req["id"]
			resp["type"] = "response"
			if _, ok := resp["status"]; !ok {
				resp["status"] = "success"
			}
			if err := ws.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func dialFake(t *testing.T, srv *httptest.Server, mode NetworkMode) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), url, mode)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSubmitSuccess(t *testing.T) {
	var gotSecret string
	srv := fakeRippled(t, func(req map[string]any) map[string]any {
		if req["command"] != "submit" {
			t.Errorf("command = %v", req["command"])
		}
		gotSecret, _ = req["secret"].(string)
		return map[string]any{"result": map[string]any{
			"engine_result": "tesSUCCESS",
			"tx_json":       map[string]any{"hash": "ABC123", "Account": "rSelf"},
		}}
	})
	defer srv.Close()

	c := dialFake(t, srv, ModeStandalone)
	res, err := c.Submit(context.Background(), "shhh", map[string]any{
		"TransactionType": "PaymentChannelCreate",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TxJSON.Hash != "ABC123" {
		t.Errorf("hash = %q", res.TxJSON.Hash)
	}
	if gotSecret != "shhh" {
		t.Errorf("secret = %q", gotSecret)
	}
}

func TestSubmitEngineFailure(t *testing.T) {
	srv := fakeRippled(t, func(req map[string]any) map[string]any {
		return map[string]any{"result": map[string]any{
			"engine_result":         "tecUNFUNDED",
			"engine_result_message": "not enough XRP",
		}}
	})
	defer srv.Close()

	c := dialFake(t, srv, ModeLive)
	_, err := c.Submit(context.Background(), "s", map[string]any{})
	xe, ok := err.(*Error)
	if !ok {
		t.Fatalf("error = %v, want *Error", err)
	}
	if xe.Code != "tecUNFUNDED" {
		t.Errorf("code = %q", xe.Code)
	}
}

func TestProtocolError(t *testing.T) {
	srv := fakeRippled(t, func(req map[string]any) map[string]any {
		return map[string]any{
			"status":        "error",
			"error":         "actNotFound",
			"error_message": "Account not found.",
		}
	})
	defer srv.Close()

	c := dialFake(t, srv, ModeStandalone)
	_, err := c.AccountInfo(context.Background(), "rUnknown")
	xe, ok := err.(*Error)
	if !ok {
		t.Fatalf("error = %v, want *Error", err)
	}
	if xe.Code != "actNotFound" {
		t.Errorf("code = %q", xe.Code)
	}
}

func TestAccountChannels(t *testing.T) {
	srv := fakeRippled(t, func(req map[string]any) map[string]any {
		if req["account"] != "rSelf" || req["destination_account"] != "rPeer" {
			t.Errorf("params = %v", req)
		}
		return map[string]any{"result": map[string]any{
			"channels": []map[string]any{{
				"channel_id": strings.Repeat("AB", 32),
				"amount":     "1000000",
				"balance":    "250000",
			}},
		}}
	})
	defer srv.Close()

	c := dialFake(t, srv, ModeStandalone)
	chans, err := c.AccountChannels(context.Background(), "rSelf", "rPeer")
	if err != nil {
		t.Fatalf("account_channels: %v", err)
	}
	if len(chans) != 1 || chans[0].Balance != "250000" {
		t.Errorf("channels = %+v", chans)
	}
}

func TestLedgerAccept(t *testing.T) {
	accepted := make(chan struct{}, 1)
	srv := fakeRippled(t, func(req map[string]any) map[string]any {
		if req["command"] == "ledger_accept" {
			accepted <- struct{}{}
		}
		return map[string]any{"result": map[string]any{"ledger_current_index": 7}}
	})
	defer srv.Close()

	c := dialFake(t, srv, ModeStandalone)
	if err := c.LedgerAccept(context.Background()); err != nil {
		t.Fatalf("ledger_accept: %v", err)
	}
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("ledger_accept never reached the server")
	}
}

func TestCallAfterClose(t *testing.T) {
	srv := fakeRippled(t, func(req map[string]any) map[string]any {
		return map[string]any{"result": map[string]any{}}
	})
	defer srv.Close()

	c := dialFake(t, srv, ModeStandalone)
	c.Close()
	if err := c.LedgerAccept(context.Background()); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCallContextCancel(t *testing.T) {
	block := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var req json.RawMessage
		_ = ws.ReadJSON(&req)
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := dialFake(t, srv, ModeStandalone)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.LedgerAccept(ctx); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
