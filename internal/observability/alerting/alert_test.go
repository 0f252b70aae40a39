package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "StayRelay/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFromErrorRespectsAlertAttribute(t *testing.T) {
	if _, ok := FromError(xerrors.New(xerrors.CodeInvalidArgument, "bad"), "t", "c"); ok {
		t.Fatalf("invalid argument must not alert")
	}
	event, ok := FromError(xerrors.New(xerrors.CodeUpstreamFailure, "down", xerrors.WithMetadata("target", "seaside")), "t1", "c1")
	if !ok {
		t.Fatalf("upstream failure should alert")
	}
	if event.Code != xerrors.CodeUpstreamFailure || event.TaskID != "t1" || event.Metadata["target"] != "seaside" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if _, ok := FromError(nil, "", ""); ok {
		t.Fatalf("nil error must not alert")
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	good := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	fanout := NewFanout(good, bad, nil)

	err := fanout.Notify(context.Background(), Event{Code: "X"})
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(good.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("every notifier must be called")
	}

	var nilFanout *FanoutDispatcher
	if err := nilFanout.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestLogNotifierWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.Notify(context.Background(), Event{Code: "ROUTING_UNAVAILABLE", Message: "down", TaskID: "t1", Target: "seaside"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"code":"ROUTING_UNAVAILABLE"`) || !strings.Contains(out, `"target":"seaside"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{Code: "TASK_EXECUTION_FAILED", TaskID: "t9"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.TaskID != "t9" || received.Code != "TASK_EXECUTION_FAILED" {
		t.Fatalf("unexpected payload: %+v", received)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	n = &WebhookNotifier{URL: failing.URL}
	if err := n.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 500 response")
	}

	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped: %v", err)
	}
}
