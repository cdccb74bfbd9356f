// Package telegram connects the chat handler to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"housefees/internal/chat"
	applog "housefees/internal/log"
	"housefees/internal/middleware/trace"
)

const maxDownloadBytes = 10 << 20

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes chat requests.
type Handler interface {
	Handle(ctx context.Context, req chat.Request) []chat.Response
}

type Config struct {
	Token       string
	Timeout     time.Duration
	Concurrency int
}

// Bot long-polls updates and processes up to Concurrency of them at once.
type Bot struct {
	api         API
	http        *http.Client
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

var _ chat.Deliverer = (*Bot)(nil)

// New authenticates against the Bot API with cfg.Token.
func New(cfg Config, logger *slog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("missing telegram token")
	}
	logger = applog.WithComponent(logger, applog.ComponentTelegram)
	if err := tgbotapi.SetLogger(botLogger{logger}); err != nil {
		return nil, fmt.Errorf("set telegram logger: %w", err)
	}
	client := &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	logger.Info("Authorized on Telegram", "bot", api.Self.UserName)
	return NewWithAPI(api, client, cfg, logger), nil
}

// NewWithAPI wraps an existing API client; downloads use httpClient.
func NewWithAPI(api API, httpClient *http.Client, cfg Config, logger *slog.Logger) *Bot {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Bot{
		api:         api,
		http:        httpClient,
		timeout:     timeoutOrDefault(cfg.Timeout),
		concurrency: concurrency,
		logger:      applog.WithComponent(logger, applog.ComponentTelegram),
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 90 * time.Second
	}
	return d
}

// Run polls until ctx is done, then waits for in-flight updates.
func (b *Bot) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	b.logger.InfoContext(ctx, "Polling for updates", "concurrency", b.concurrency)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.InfoContext(ctx, "Stopped polling, draining in-flight updates")
			return g.Wait()
		case upd, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				b.process(ctx, h, upd)
				return nil
			})
		}
	}
}

// inbound is a Telegram update reduced to what the chat layer needs.
type inbound struct {
	req       chat.Request
	messageID int
}

func (b *Bot) translate(upd tgbotapi.Update) (inbound, bool) {
	if q := upd.CallbackQuery; q != nil {
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return inbound{}, false
		}
		return inbound{
			req:       chat.Request{UserID: q.From.ID, ChatID: q.Message.Chat.ID, Callback: q.Data},
			messageID: q.Message.MessageID,
		}, true
	}

	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return inbound{}, false
	}
	req := chat.Request{UserID: m.From.ID, ChatID: m.Chat.ID}
	switch {
	case m.IsCommand():
		req.Command = strings.ToLower(m.Command())
	case m.Document != nil:
		doc := m.Document
		req.File = &chat.File{
			Name:  doc.FileName,
			Size:  int64(doc.FileSize),
			Fetch: func(ctx context.Context) ([]byte, error) { return b.download(ctx, doc.FileID) },
		}
	case m.Text != "":
		req.Text = m.Text
	default:
		return inbound{}, false
	}
	return inbound{req: req, messageID: m.MessageID}, true
}

func (b *Bot) process(ctx context.Context, h Handler, upd tgbotapi.Update) {
	in, ok := b.translate(upd)
	if !ok {
		return
	}
	ctx = trace.WithRequestID(ctx, trace.GenerateRequestID())
	logger := b.logger.With(
		applog.FieldRequestID, trace.GetRequestID(ctx),
		"update_id", upd.UpdateID)

	if q := upd.CallbackQuery; q != nil {
		b.answerCallback(ctx, logger, q.ID)
	}

	for _, resp := range h.Handle(ctx, in.req) {
		b.send(ctx, logger, in, resp)
	}
}

// answerCallback stops the client spinner. Telegram rejects answers to stale
// queries; those are expected and only logged at debug.
func (b *Bot) answerCallback(ctx context.Context, logger *slog.Logger, id string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		if isStaleQuery(err) {
			logger.DebugContext(ctx, "Ignoring stale callback query", applog.FieldError, err)
			return
		}
		logger.WarnContext(ctx, "Failed to answer callback query", applog.FieldError, err)
	}
}

func (b *Bot) send(ctx context.Context, logger *slog.Logger, in inbound, resp chat.Response) {
	chatID := in.req.ChatID
	if a := resp.Attachment; a != nil {
		if err := b.Deliver(ctx, chatID, *a); err != nil {
			logger.ErrorContext(ctx, "Failed to send file",
				applog.FieldFileName, a.Name,
				applog.FieldError, err)
			resp.Text = failureText(err, "sending the file "+a.Name)
		}
	}
	if resp.Text == "" {
		return
	}

	var c tgbotapi.Chattable
	if resp.Edit && in.req.Callback != "" && in.messageID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, in.messageID, resp.Text)
		if len(resp.Choices) > 0 {
			markup := keyboard(resp.Choices)
			edit.ReplyMarkup = &markup
		}
		c = edit
	} else {
		msg := tgbotapi.NewMessage(chatID, resp.Text)
		if len(resp.Choices) > 0 {
			msg.ReplyMarkup = keyboard(resp.Choices)
		}
		c = msg
	}

	if _, err := b.api.Send(c); err != nil {
		if isNotModified(err) {
			logger.DebugContext(ctx, "Message unchanged", applog.FieldError, err)
			return
		}
		logger.ErrorContext(ctx, "Failed to send message", applog.FieldError, err)
		if _, rerr := b.api.Send(tgbotapi.NewMessage(chatID, failureText(err, "replying"))); rerr != nil {
			logger.ErrorContext(ctx, "Failed to send error reply", applog.FieldError, rerr)
		}
	}
}

// Deliver sends a as a document to chatID.
func (b *Bot) Deliver(ctx context.Context, chatID int64, a chat.Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: a.Name, Bytes: a.Data})
	doc.Caption = a.Caption
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("send document %s: %w", a.Name, err)
	}
	b.logger.InfoContext(ctx, "File sent",
		applog.FieldChatID, chatID,
		applog.FieldFileName, a.Name,
		"bytes", len(a.Data))
	return nil
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func keyboard(rows [][]chat.Choice) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func failureText(err error, doing string) string {
	if chat.IsTimeout(err) {
		return "Network timeout while " + doing + ". Telegram was slow to respond; please try again."
	}
	return "An unexpected error occurred while " + doing + ". It has been logged."
}

func isStaleQuery(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "query is too old") || strings.Contains(msg, "query id is invalid")
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// botLogger routes the library's internal logging through slog.
type botLogger struct{ logger *slog.Logger }

func (l botLogger) Println(v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
