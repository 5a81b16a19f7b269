package dvm

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/agentmesh/agentmesh-go/pkg/event"
)

// Job and feedback statuses carried in "status" tags.
const (
	StatusPaymentRequired = "payment-required"
	StatusProcessing      = "processing"
	StatusError           = "error"
	StatusSuccess         = "success"
	StatusPartial         = "partial"
)

// Formatting failures.
var (
	ErrInvalidProgress = errors.New("dvm: progress outside [0, 100]")
	ErrInvalidETA      = errors.New("dvm: negative eta")
)

// ResultInput describes one job result to format.
type ResultInput struct {
	Request *event.Event
	// Content may be a string, a byte slice or any JSON-marshalable value.
	Content interface{}
	Amount  *big.Int
	Status  string
}

// FormatJobResult builds the unsigned result event for a job request. The
// result kind is the request kind plus the result offset; the tag order is
// part of the wire contract.
func FormatJobResult(in ResultInput) (*event.Event, error) {
	if in.Request == nil {
		return nil, fmt.Errorf("dvm: result requires a request event")
	}
	if !event.IsJobRequestKind(in.Request.Kind) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, in.Request.Kind)
	}
	status := in.Status
	switch status {
	case StatusSuccess, StatusError, StatusPartial:
	case "":
		status = StatusSuccess
	default:
		return nil, fmt.Errorf("dvm: invalid result status %q", status)
	}

	reqJSON, err := in.Request.Encode()
	if err != nil {
		return nil, err
	}
	content, err := renderContent(in.Content, status)
	if err != nil {
		return nil, err
	}
	amount := in.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}

	ev := event.New(in.Request.Kind+event.KindResultOffset, content, []event.Tag{
		{"request", string(reqJSON)},
		{"e", in.Request.ID},
		{"p", in.Request.PubKey},
		{"amount", amount.String()},
		{"status", status},
	})
	return ev, nil
}

// FormatErrorResult builds a result event whose content is an error object
// with a wire code and message.
func FormatErrorResult(request *event.Event, code, message string, amount *big.Int) (*event.Event, error) {
	content := map[string]interface{}{
		"error":   true,
		"code":    code,
		"message": message,
	}
	return FormatJobResult(ResultInput{
		Request: request,
		Content: content,
		Amount:  amount,
		Status:  StatusError,
	})
}

// renderContent flattens the content value into the event content string.
// Strings pass through, byte slices become base64, anything else becomes
// JSON. Error-status plain strings are wrapped into an error object unless
// they already are one.
func renderContent(v interface{}, status string) (string, error) {
	switch c := v.(type) {
	case nil:
		if status == StatusError {
			return wrapErrorString(""), nil
		}
		return "", nil
	case string:
		if status == StatusError && !isErrorObject(c) {
			return wrapErrorString(c), nil
		}
		return c, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(c), nil
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("dvm: marshal result content: %w", err)
		}
		return string(data), nil
	}
}

// isErrorObject reports whether s already is error-shaped JSON:
// an object carrying a true "error" field.
func isErrorObject(s string) bool {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return false
	}
	flag, ok := obj["error"].(bool)
	return ok && flag
}

func wrapErrorString(message string) string {
	// Marshaling a map of two scalars cannot fail.
	data, _ := json.Marshal(map[string]interface{}{"error": true, "message": message})
	return string(data)
}

// Feedback describes one job feedback emission.
type Feedback struct {
	JobEventID      string
	RequesterPubKey string
	Status          string
	// Content overrides the per-status default message when non-empty.
	Content string
	Amount  *big.Int
}

// defaultFeedbackContent maps a status to its stock message.
func defaultFeedbackContent(status string) string {
	switch status {
	case StatusPaymentRequired:
		return "Payment required to process this request"
	case StatusProcessing:
		return "Processing your request..."
	case StatusError:
		return "An error occurred while processing your request"
	case StatusSuccess:
		return "Request completed successfully"
	case StatusPartial:
		return "Partial results available"
	default:
		return ""
	}
}

// FormatFeedback builds the unsigned kind-7000 feedback event.
func FormatFeedback(fb Feedback) (*event.Event, error) {
	switch fb.Status {
	case StatusPaymentRequired, StatusProcessing, StatusError, StatusSuccess, StatusPartial:
	default:
		return nil, fmt.Errorf("dvm: invalid feedback status %q", fb.Status)
	}
	if fb.JobEventID == "" {
		return nil, fmt.Errorf("dvm: feedback requires a job event id")
	}

	content := fb.Content
	if content == "" {
		content = defaultFeedbackContent(fb.Status)
	}
	tags := []event.Tag{
		{"e", fb.JobEventID},
		{"p", fb.RequesterPubKey},
		{"status", fb.Status},
	}
	if fb.Amount != nil {
		tags = append(tags, event.Tag{"amount", fb.Amount.String()})
	}
	return event.New(event.KindJobFeedback, content, tags), nil
}

// TaskFeedback extends Feedback with optional progress and ETA tags.
type TaskFeedback struct {
	Feedback
	// Progress in percent; floored into the tag. Nil omits the tag.
	Progress *float64
	// ETASeconds until completion; floored into the tag. Nil omits the tag.
	ETASeconds *float64
}

// FormatTaskFeedback builds a feedback event carrying progress and ETA.
// Progress outside [0, 100] or a negative ETA fail before any event is
// produced.
func FormatTaskFeedback(fb TaskFeedback) (*event.Event, error) {
	if fb.Progress != nil && (*fb.Progress < 0 || *fb.Progress > 100) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgress, *fb.Progress)
	}
	if fb.ETASeconds != nil && *fb.ETASeconds < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidETA, *fb.ETASeconds)
	}
	ev, err := FormatFeedback(fb.Feedback)
	if err != nil {
		return nil, err
	}
	if fb.Progress != nil {
		ev.AppendTag("progress", fmt.Sprintf("%d", int64(*fb.Progress)))
	}
	if fb.ETASeconds != nil {
		ev.AppendTag("eta", fmt.Sprintf("%d", int64(*fb.ETASeconds)))
	}
	return ev, nil
}
