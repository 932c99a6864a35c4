package tgsender

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

// API это часть *tgbotapi.BotAPI, которой пользуется отправщик
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sender отправляет новости в телеграм с учетом лимитов:
// общий поток сообщений в секунду и отдельный бюджет в минуту на каждый канал или группу
type Sender struct {
	api    API
	global *rate.Limiter

	chatLimit rate.Limit
	chatBurst int
	mu        sync.Mutex
	chats     map[int64]*rate.Limiter

	log zerolog.Logger
}

func New(api API, perSecond, chatPerMinute int, log zerolog.Logger) *Sender {
	if perSecond <= 0 {
		perSecond = 25
	}
	if chatPerMinute <= 0 {
		chatPerMinute = 15
	}
	return &Sender{
		api:       api,
		global:    rate.NewLimiter(rate.Limit(perSecond), perSecond),
		chatLimit: rate.Every(time.Minute / time.Duration(chatPerMinute)),
		chatBurst: chatPerMinute,
		chats:     make(map[int64]*rate.Limiter),
		log:       log.With().Str("component", "tgsender").Logger(),
	}
}

func (s *Sender) SendArticle(ctx context.Context, chatID int64, article model.Article) error {
	if err := s.wait(ctx, chatID); err != nil {
		return err
	}

	if article.HasImage() {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(article.ImageURL))
		photo.Caption = FormatArticle(article, MaxCaptionLen)
		photo.ParseMode = tgbotapi.ModeMarkdownV2

		_, err := s.api.Send(photo)
		if err == nil {
			return nil
		}
		// Телеграм не всегда может скачать картинку, тогда шлем текстом
		s.log.Warn().Err(err).Int64("chat_id", chatID).Str("image", article.ImageURL).Msg("failed to send photo, falling back to text")
	}

	msg := tgbotapi.NewMessage(chatID, FormatArticle(article, MaxTextLen))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send article to %d: %w", chatID, err)
	}
	return nil
}

func (s *Sender) SendDigest(ctx context.Context, chatID int64, articles []model.Article) error {
	if err := s.wait(ctx, chatID); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, FormatDigest(articles))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send digest to %d: %w", chatID, err)
	}
	return nil
}

// SendPresence показывает "печатает..." пока готовится ответ
func (s *Sender) SendPresence(ctx context.Context, chatID int64) error {
	if err := s.global.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send chat action to %d: %w", chatID, err)
	}
	return nil
}

// SendText шлет обычный текст без разметки
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := s.wait(ctx, chatID); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, truncateRunes(text, MaxTextLen))
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send text to %d: %w", chatID, err)
	}
	return nil
}

func (s *Sender) wait(ctx context.Context, chatID int64) error {
	if err := s.global.Wait(ctx); err != nil {
		return err
	}
	if chatID >= 0 {
		return nil
	}
	return s.chatLimiter(chatID).Wait(ctx)
}

func (s *Sender) chatLimiter(chatID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.chats[chatID]
	if !ok {
		l = rate.NewLimiter(s.chatLimit, s.chatBurst)
		s.chats[chatID] = l
	}
	return l
}
