package notifier

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "ferry/pkg/logx"
)

// LogSink writes notifications to the structured log. Always configured;
// it is the floor that keeps outcomes observable when no external channel is.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "notify"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, n Notification) error {
	fields := []logx.Field{logx.String("title", n.Title), logx.String("body", n.Body)}
	switch n.Severity {
	case SeverityError:
		s.log.Error("notification", fields...)
	case SeverityWarn:
		s.log.Warn("notification", fields...)
	default:
		s.log.Info("notification", fields...)
	}
	return nil
}

// TelegramConfig configures the optional Telegram sink.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramSink pushes notifications to a Telegram chat.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id required")
	}
	// No poller: the sink only sends.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: cfg.ChatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Emit(ctx context.Context, n Notification) error {
	_ = ctx // telebot manages its own HTTP timeouts

	var b strings.Builder
	b.WriteString(severityBadge(n.Severity))
	b.WriteString(" ")
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}

	_, err := s.bot.Send(tele.ChatID(s.chatID), b.String(), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}

func severityBadge(sev Severity) string {
	switch sev {
	case SeverityError:
		return "[ERROR]"
	case SeverityWarn:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
