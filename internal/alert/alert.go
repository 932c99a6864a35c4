package alert

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	queueSize    = 32
	maxStackLen  = 1500
	sendTimeout  = 10 * time.Second
	maxAlertSize = 4000
)

type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Reporter пишет ошибки в лог и, если задан чат, дублирует их туда.
// Отправка идет в фоне через очередь, переполненная очередь отбрасывает алерты.
type Reporter struct {
	log     zerolog.Logger
	sender  TextSender
	chatID  int64
	limiter *rate.Limiter
	queue   chan string
}

func New(log zerolog.Logger, sender TextSender, chatID int64) *Reporter {
	r := &Reporter{
		log:    log.With().Str("component", "alert").Logger(),
		sender: sender,
		chatID: chatID,
		// Не чаще одного алерта в 3 секунды, чтобы не упереться в лимиты телеграма
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 3),
	}
	if sender != nil && chatID != 0 {
		r.queue = make(chan string, queueSize)
	}
	return r
}

func (r *Reporter) ReportFailure(_ context.Context, title string, fields map[string]any, err error) {
	event := r.log.Error().Err(err)
	for _, key := range sortedKeys(fields) {
		if key == "stack" {
			continue
		}
		event = event.Interface(key, fields[key])
	}
	event.Msg(title)

	if r.queue == nil {
		return
	}

	select {
	case r.queue <- Format(title, fields, err):
	default:
		r.log.Warn().Str("title", title).Msg("alert queue is full, dropping alert")
	}
}

// Run отправляет алерты из очереди, пока не отменят ctx
func (r *Reporter) Run(ctx context.Context) error {
	if r.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-r.queue:
			if err := r.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}

			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := r.sender.SendText(sendCtx, r.chatID, text); err != nil {
				r.log.Warn().Err(err).Int64("chat_id", r.chatID).Msg("failed to deliver alert")
			}
			cancel()
		}
	}
}

// Format собирает текст алерта: заголовок, ошибка, поля по алфавиту и обрезанный стек
func Format(title string, fields map[string]any, err error) string {
	var b strings.Builder

	b.WriteString("⚠️ ")
	b.WriteString(title)
	b.WriteString(" @ ")
	b.WriteString(time.Now().UTC().Format(time.RFC3339))

	if err != nil {
		b.WriteString("\n\nerror: ")
		b.WriteString(err.Error())
	}

	keys := sortedKeys(fields)
	if len(keys) > 0 {
		b.WriteString("\n")
	}
	for _, key := range keys {
		if key == "stack" {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %v", key, fields[key])
	}

	if stack, ok := fields["stack"].(string); ok && stack != "" {
		if cut := truncateRunes(stack, maxStackLen); cut != stack {
			stack = cut + "\n..."
		}
		b.WriteString("\n\n")
		b.WriteString(stack)
	}

	return truncateRunes(b.String(), maxAlertSize)
}

// Режем по символам, иначе телеграм отвергнет невалидный utf-8
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
