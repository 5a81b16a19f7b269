package dvm

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/agentmesh/agentmesh-go/pkg/event"
)

func requestEvent(t *testing.T, kind int) *event.Event {
	t.Helper()
	priv, err := event.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ev := event.New(kind, "do the thing", []event.Tag{{"i", "hello", "text"}})
	if err := ev.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ev
}

func TestFormatJobResultTagOrder(t *testing.T) {
	req := requestEvent(t, 5050)
	res, err := FormatJobResult(ResultInput{
		Request: req,
		Content: "HELLO",
		Amount:  big.NewInt(42),
		Status:  StatusSuccess,
	})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if res.Kind != 6050 {
		t.Fatalf("kind = %d, want 6050", res.Kind)
	}
	wantNames := []string{"request", "e", "p", "amount", "status"}
	if len(res.Tags) != len(wantNames) {
		t.Fatalf("tag count = %d, want %d", len(res.Tags), len(wantNames))
	}
	for i, name := range wantNames {
		if res.Tags[i].Name() != name {
			t.Errorf("tag[%d] = %q, want %q", i, res.Tags[i].Name(), name)
		}
	}
	if got := res.TagValue("e"); got != req.ID {
		t.Errorf("e tag = %q, want %q", got, req.ID)
	}
	if got := res.TagValue("p"); got != req.PubKey {
		t.Errorf("p tag = %q, want %q", got, req.PubKey)
	}
	if got := res.TagValue("amount"); got != "42" {
		t.Errorf("amount tag = %q, want 42", got)
	}

	var embedded event.Event
	if err := json.Unmarshal([]byte(res.TagValue("request")), &embedded); err != nil {
		t.Fatalf("request tag not valid JSON: %v", err)
	}
	if embedded.ID != req.ID {
		t.Errorf("embedded request id = %q, want %q", embedded.ID, req.ID)
	}
}

func TestFormatJobResultContentShapes(t *testing.T) {
	req := requestEvent(t, 5100)

	bytesRes, err := FormatJobResult(ResultInput{Request: req, Content: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("bytes content: %v", err)
	}
	if want := base64.StdEncoding.EncodeToString([]byte{1, 2, 3}); bytesRes.Content != want {
		t.Errorf("bytes content = %q, want %q", bytesRes.Content, want)
	}

	objRes, err := FormatJobResult(ResultInput{Request: req, Content: map[string]interface{}{"n": 7}})
	if err != nil {
		t.Fatalf("object content: %v", err)
	}
	if objRes.Content != `{"n":7}` {
		t.Errorf("object content = %q", objRes.Content)
	}
}

func TestFormatJobResultErrorWrapsPlainString(t *testing.T) {
	req := requestEvent(t, 5100)
	res, err := FormatJobResult(ResultInput{Request: req, Content: "boom", Status: StatusError})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(res.Content), &obj); err != nil {
		t.Fatalf("error content not JSON: %v", err)
	}
	if obj["error"] != true || obj["message"] != "boom" {
		t.Errorf("error content = %v", obj)
	}

	// Already error-shaped JSON passes through untouched.
	shaped := `{"error":true,"message":"already wrapped"}`
	res2, err := FormatJobResult(ResultInput{Request: req, Content: shaped, Status: StatusError})
	if err != nil {
		t.Fatalf("format shaped: %v", err)
	}
	if res2.Content != shaped {
		t.Errorf("shaped content rewrapped: %q", res2.Content)
	}
}

func TestFormatErrorResult(t *testing.T) {
	req := requestEvent(t, 5900)
	res, err := FormatErrorResult(req, "F99", "no can do", nil)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if got := res.TagValue("status"); got != StatusError {
		t.Errorf("status = %q, want error", got)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(res.Content), &obj); err != nil {
		t.Fatalf("content not JSON: %v", err)
	}
	if obj["code"] != "F99" || obj["message"] != "no can do" {
		t.Errorf("content = %v", obj)
	}
}

func TestFormatJobResultRejectsNonRequestKind(t *testing.T) {
	req := requestEvent(t, 5050)
	req.Kind = 1
	if _, err := FormatJobResult(ResultInput{Request: req}); err == nil {
		t.Fatal("expected error for non-request kind")
	}
}

func TestFormatFeedbackDefaults(t *testing.T) {
	cases := []struct {
		status string
		want   string
	}{
		{StatusPaymentRequired, "Payment required to process this request"},
		{StatusProcessing, "Processing your request..."},
		{StatusError, "An error occurred while processing your request"},
		{StatusSuccess, "Request completed successfully"},
		{StatusPartial, "Partial results available"},
	}
	for _, c := range cases {
		ev, err := FormatFeedback(Feedback{JobEventID: "abc", RequesterPubKey: "def", Status: c.status})
		if err != nil {
			t.Fatalf("%s: %v", c.status, err)
		}
		if ev.Kind != event.KindJobFeedback {
			t.Errorf("%s: kind = %d", c.status, ev.Kind)
		}
		if ev.Content != c.want {
			t.Errorf("%s: content = %q, want %q", c.status, ev.Content, c.want)
		}
		if got := ev.TagValue("status"); got != c.status {
			t.Errorf("%s: status tag = %q", c.status, got)
		}
	}
}

func TestFormatFeedbackAmountTag(t *testing.T) {
	ev, err := FormatFeedback(Feedback{
		JobEventID: "abc", RequesterPubKey: "def",
		Status: StatusPaymentRequired, Amount: big.NewInt(500),
	})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if got := ev.TagValue("amount"); got != "500" {
		t.Errorf("amount tag = %q, want 500", got)
	}
}

func TestFormatTaskFeedbackProgressAndETA(t *testing.T) {
	progress := 33.9
	eta := 12.7
	ev, err := FormatTaskFeedback(TaskFeedback{
		Feedback:   Feedback{JobEventID: "abc", Status: StatusProcessing},
		Progress:   &progress,
		ETASeconds: &eta,
	})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if got := ev.TagValue("progress"); got != "33" {
		t.Errorf("progress tag = %q, want 33 (floored)", got)
	}
	if got := ev.TagValue("eta"); got != "12" {
		t.Errorf("eta tag = %q, want 12 (floored)", got)
	}
}

func TestFormatTaskFeedbackRejectsOutOfRange(t *testing.T) {
	bad := 101.0
	if _, err := FormatTaskFeedback(TaskFeedback{
		Feedback: Feedback{JobEventID: "abc", Status: StatusProcessing},
		Progress: &bad,
	}); err == nil {
		t.Fatal("expected error for progress > 100")
	}
	neg := -1.0
	if _, err := FormatTaskFeedback(TaskFeedback{
		Feedback:   Feedback{JobEventID: "abc", Status: StatusProcessing},
		ETASeconds: &neg,
	}); err == nil {
		t.Fatal("expected error for negative eta")
	}
}
