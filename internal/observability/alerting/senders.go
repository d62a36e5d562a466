package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"GhostSignal-Chain/internal/config"
)

// DingTalkWebhook 通过自定义机器人 webhook 发送文本消息。
type DingTalkWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 DingTalkSender。
func (w *DingTalkWebhook) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, w.Client, w.URL, payload)
}

// SlackWebhook 通过 incoming webhook 发送消息。
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 SlackSender。
func (w *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	return postJSON(ctx, w.Client, w.URL, map[string]string{"channel": channel, "text": content})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// SMTPSender 使用 PLAIN 认证通过 SMTP 发送邮件。
type SMTPSender struct {
	Addr     string
	Username string
	Password string
	From     string
}

// Send 实现 EmailSender。
func (s *SMTPSender) Send(_ context.Context, subject, content string, to []string) error {
	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("解析 SMTP 地址失败: %w", err)
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(content)
	return smtp.SendMail(s.Addr, auth, s.From, to, []byte(msg.String()))
}

// FromConfig 按配置组装告警渠道，日志渠道始终启用。
func FromConfig(cfg config.AlertingConfig) *FanoutDispatcher {
	notifiers := []Notifier{&LogNotifier{}}
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, &SlackNotifier{
			Sender:    &SlackWebhook{URL: cfg.Slack.WebhookURL},
			ChannelID: cfg.Slack.Channel,
		})
	}
	if cfg.DingTalk.WebhookURL != "" {
		notifiers = append(notifiers, &DingTalkNotifier{Sender: &DingTalkWebhook{URL: cfg.DingTalk.WebhookURL}})
	}
	if cfg.Email.SMTPAddr != "" && len(cfg.Email.To) > 0 {
		notifiers = append(notifiers, &EmailNotifier{
			Sender: &SMTPSender{
				Addr:     cfg.Email.SMTPAddr,
				Username: cfg.Email.Username,
				Password: cfg.Email.Password,
				From:     cfg.Email.From,
			},
			To:            cfg.Email.To,
			SubjectPrefix: cfg.Email.SubjectPrefix,
		})
	}
	return NewFanout(notifiers...)
}
