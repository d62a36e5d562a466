// Package alerting 把致命生命周期失败和强制过期的槽位广播到各通知渠道。
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "GhostSignal-Chain/internal/errors"
	"GhostSignal-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code         xerrors.Code
	Message      string
	Severity     xerrors.Severity
	AgentID      string
	CommitmentID string
	Phase        string
	Metadata     map[string]string
	OccurredAt   time.Time
}

// FromError 依据统一错误类型构造告警事件。
func FromError(err error, agentID, commitmentID, phase string) Event {
	e := Event{
		Code:         xerrors.CodeOf(err),
		Severity:     xerrors.SeverityOf(err),
		AgentID:      agentID,
		CommitmentID: commitmentID,
		Phase:        phase,
		OccurredAt:   time.Now().UTC(),
	}
	if err != nil {
		e.Message = err.Error()
	}
	if typed, ok := xerrors.From(err); ok {
		e.Metadata = typed.Metadata()
	}
	return e
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func describe(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "告警时间: %s\n智能体: %s\n", event.OccurredAt.Format(time.RFC3339), event.AgentID)
	if event.CommitmentID != "" {
		fmt.Fprintf(&b, "承诺: %s\n", event.CommitmentID)
	}
	if event.Phase != "" {
		fmt.Fprintf(&b, "阶段: %s\n", event.Phase)
	}
	fmt.Fprintf(&b, "错误码: %s\n描述: %s", event.Code, event.Message)
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, event.Metadata[k])
		}
	}
	return b.String()
}

// LogNotifier 把告警写入审计日志，未配置外部渠道时作为默认通知器。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入一条审计记录。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	l.Error("生命周期告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("agent_id", event.AgentID),
		slog.String("commitment_id", event.CommitmentID),
		slog.String("phase", event.Phase),
		slog.String("message", event.Message))
	return nil
}

// EmailSender 定义发送邮件所需的能力。
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier 通过邮件发送告警。
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

// Channel 返回邮件渠道。
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify 发送邮件。
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("EmailNotifier 未正确配置，跳过发送", slog.String("agent_id", event.AgentID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	return n.Sender.Send(ctx, subject, describe(event), n.To)
}

// DingTalkSender 负责向钉钉机器人发送消息。
type DingTalkSender interface {
	Send(ctx context.Context, content string) error
}

// DingTalkNotifier 通过钉钉机器人发送告警。
type DingTalkNotifier struct {
	Sender DingTalkSender
}

// Channel 返回钉钉渠道。
func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

// Notify 发送钉钉消息。
func (n *DingTalkNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("DingTalkNotifier 未正确配置，跳过发送", slog.String("agent_id", event.AgentID))
		return nil
	}
	return n.Sender.Send(ctx, fmt.Sprintf("[%s] %s\n%s", event.Severity, event.Code, describe(event)))
}

// SlackSender 负责向 Slack 渠道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 通过 Slack 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("agent_id", event.AgentID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s (agent %s, phase %s)", event.Severity, event.Code, event.Message, event.AgentID, event.Phase)
	return n.Sender.Send(ctx, n.ChannelID, content)
}
