package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"livewatch/pkg/logx"
)

// LogSender writes notifications to the log. Always available.
type LogSender struct {
	Log logx.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Send(ctx context.Context, n Notification) error {
	log := s.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("LIVE: "+n.Text(),
		logx.String("account", n.AccountID),
		logx.String("platform", string(n.Platform)),
	)
	return nil
}

type TelegramConfig struct {
	Token          string
	ChatID         int64
	ThreadID       int
	DisablePreview bool
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL  string
	Timeout time.Duration
}

// TelegramSender posts notifications to one chat through the Bot API.
type TelegramSender struct {
	cfg TelegramConfig
	bot *tele.Bot
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline: no getMe round-trip at construction and no poller; this bot
	// only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{cfg: cfg, bot: b}, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: s.cfg.DisablePreview,
		ThreadID:              s.cfg.ThreadID,
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, n.HTML(), opt)
	return err
}

// WebhookSender POSTs the notification as JSON.
type WebhookSender struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(struct {
		Event string `json:"event"`
		Notification
		Text string `json:"text"`
	}{Event: "live", Notification: n, Text: n.Text()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
