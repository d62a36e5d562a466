package alerting

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"GhostSignal-Chain/internal/config"
	xerrors "GhostSignal-Chain/internal/errors"
)

type recordingSlack struct {
	channel string
	content string
}

func (r *recordingSlack) Send(_ context.Context, channel, content string) error {
	r.channel = channel
	r.content = content
	return nil
}

type failingDingTalk struct{}

func (failingDingTalk) Send(context.Context, string) error { return stdErrors.New("webhook down") }

type recordingEmail struct {
	subject string
	body    string
}

func (r *recordingEmail) Send(_ context.Context, subject, content string, _ []string) error {
	r.subject = subject
	r.body = content
	return nil
}

func TestFromErrorCarriesCodeAndMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "disk full", xerrors.WithMetadata("phase", "reveal"))
	event := FromError(err, "Alpha", "c-1", "reveal")
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["phase"] != "reveal" || event.AgentID != "Alpha" {
		t.Fatalf("metadata not carried: %+v", event)
	}
}

func TestFanoutCollectsErrors(t *testing.T) {
	slack := &recordingSlack{}
	email := &recordingEmail{}
	d := NewFanout(
		&SlackNotifier{Sender: slack, ChannelID: "#ops"},
		&DingTalkNotifier{Sender: failingDingTalk{}},
		&EmailNotifier{Sender: email, To: []string{"ops@example.com"}, SubjectPrefix: "[ghost]"},
		&LogNotifier{},
		nil,
	)
	err := d.Notify(context.Background(), Event{Code: "LEDGER_REJECTED", Severity: xerrors.SeverityCritical, AgentID: "Alpha", Phase: "commit", Message: "nonce too low"})
	if err == nil || !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("expected dingtalk failure to surface, got %v", err)
	}
	if slack.channel != "#ops" || !strings.Contains(slack.content, "LEDGER_REJECTED") {
		t.Fatalf("unexpected slack message: %+v", slack)
	}
	if email.subject != "[ghost][critical] LEDGER_REJECTED" || !strings.Contains(email.body, "阶段: commit") {
		t.Fatalf("unexpected email: %+v", email)
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	if err := d.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op, got %v", err)
	}
}

func TestWebhookSendersPostJSON(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		bodies = append(bodies, body)
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ding := &DingTalkWebhook{URL: srv.URL + "/ding", Client: srv.Client()}
	if err := ding.Send(context.Background(), "slot expired"); err != nil {
		t.Fatalf("dingtalk send: %v", err)
	}
	slack := &SlackWebhook{URL: srv.URL + "/slack", Client: srv.Client()}
	if err := slack.Send(context.Background(), "#ops", "reveal rejected"); err != nil {
		t.Fatalf("slack send: %v", err)
	}
	broken := &SlackWebhook{URL: srv.URL + "/broken", Client: srv.Client()}
	if err := broken.Send(context.Background(), "#ops", "x"); err == nil {
		t.Fatalf("expected non-2xx webhook to fail")
	}

	if len(bodies) != 3 || bodies[0]["msgtype"] != "text" || bodies[1]["channel"] != "#ops" {
		t.Fatalf("unexpected webhook bodies: %+v", bodies)
	}
}

func TestFromConfigEnablesConfiguredChannels(t *testing.T) {
	d := FromConfig(config.AlertingConfig{})
	if len(d.notifiers) != 1 || d.notifiers[ChannelLog] == nil {
		t.Fatalf("expected only the log channel, got %v", d.notifiers)
	}

	d = FromConfig(config.AlertingConfig{
		Slack:    config.SlackConfig{WebhookURL: "http://127.0.0.1/slack", Channel: "#ops"},
		DingTalk: config.DingTalkConfig{WebhookURL: "http://127.0.0.1/ding"},
		Email:    config.EmailConfig{SMTPAddr: "127.0.0.1:25", To: []string{"ops@example.com"}},
	})
	for _, ch := range []Channel{ChannelLog, ChannelSlack, ChannelDingTalk, ChannelEmail} {
		if d.notifiers[ch] == nil {
			t.Fatalf("channel %s not enabled", ch)
		}
	}
}
