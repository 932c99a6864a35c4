package notifier

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

// С какого размера пачки пользователи получают дайджест вместо отдельных сообщений
const DefaultDigestThreshold = 5

// Транспорт, через который уходят сообщения
type Sender interface {
	// Полноценное сообщение: заголовок, выжимка, ссылка и картинка, если есть
	SendArticle(ctx context.Context, chatID int64, article model.Article) error
	// Одно сообщение со списком заголовков-ссылок в порядке ленты
	SendDigest(ctx context.Context, chatID int64, articles []model.Article) error
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Загрузчик страниц для статей без выжимки
type PageLoader interface {
	Fetch(ctx context.Context, url string, maxRetries int, retryDelay time.Duration) ([]byte, error)
}

type Notifier struct {
	sender Sender
	// Необязательное обогащение выжимкой от gpt
	summarizer Summarizer
	pages      PageLoader
	// Порог для дайджеста у пользователей
	digestThreshold int
	// Сколько получателей обслуживается одновременно
	workers int
	log     zerolog.Logger
}

func New(sender Sender, digestThreshold, workers int, log zerolog.Logger) *Notifier {
	if digestThreshold <= 0 {
		digestThreshold = DefaultDigestThreshold
	}
	if workers <= 0 {
		workers = 1
	}
	return &Notifier{
		sender:          sender,
		digestThreshold: digestThreshold,
		workers:         workers,
		log:             log.With().Str("component", "notifier").Logger(),
	}
}

// WithSummarizer включает выжимки. pages может быть nil, тогда статьи без summary не обогащаются
func (n *Notifier) WithSummarizer(summarizer Summarizer, pages PageLoader) *Notifier {
	n.summarizer = summarizer
	n.pages = pages
	return n
}

// Fanout рассылает новые статьи получателям.
// Каналы всегда получают по сообщению на статью. Пользователи тоже, пока статей меньше порога,
// а начиная с порога получают один дайджест. Ошибка одной отправки не мешает остальным.
// Отчет упорядочен по получателям, как они пришли, и по статьям внутри получателя.
func (n *Notifier) Fanout(ctx context.Context, articles []model.Article, recipients []model.Recipient) model.FanoutReport {
	if len(articles) == 0 || len(recipients) == 0 {
		return model.FanoutReport{}
	}

	articles = n.enrich(ctx, articles)
	digest := len(articles) >= n.digestThreshold

	var (
		reports = make([]model.FanoutReport, len(recipients))
		sem     = make(chan struct{}, n.workers)
		wg      sync.WaitGroup
	)

	for i, recipient := range recipients {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, recipient model.Recipient) {
			defer func() {
				<-sem
				wg.Done()
			}()

			// Внутри одного получателя сообщения идут строго по порядку
			if !recipient.IsChannel() && digest {
				reports[i] = n.sendDigest(ctx, recipient, articles)
				return
			}
			reports[i] = n.sendEach(ctx, recipient, articles)
		}(i, recipient)
	}

	wg.Wait()

	var report model.FanoutReport
	for _, r := range reports {
		report.Sent = append(report.Sent, r.Sent...)
		report.Failed = append(report.Failed, r.Failed...)
	}

	n.log.Info().
		Int("articles", len(articles)).
		Int("recipients", len(recipients)).
		Int("sent", len(report.Sent)).
		Int("failed", len(report.Failed)).
		Msg("fanout finished")

	return report
}

func (n *Notifier) sendEach(ctx context.Context, recipient model.Recipient, articles []model.Article) model.FanoutReport {
	var report model.FanoutReport

	for _, article := range articles {
		err := safeSend(func() error {
			return n.sender.SendArticle(ctx, recipient.ChatID, article)
		})
		if err != nil {
			n.log.Warn().Err(err).Stringer("recipient", recipient).Str("article", article.ID).Msg("failed to send article")
			report.Failed = append(report.Failed, model.SendFailure{ChatID: recipient.ChatID, ArticleID: article.ID, Err: err})
			continue
		}
		report.Sent = append(report.Sent, recipient.ChatID)
	}

	return report
}

func (n *Notifier) sendDigest(ctx context.Context, recipient model.Recipient, articles []model.Article) model.FanoutReport {
	err := safeSend(func() error {
		return n.sender.SendDigest(ctx, recipient.ChatID, articles)
	})
	if err != nil {
		n.log.Warn().Err(err).Stringer("recipient", recipient).Msg("failed to send digest")
		return model.FanoutReport{Failed: []model.SendFailure{{ChatID: recipient.ChatID, Err: err}}}
	}
	return model.FanoutReport{Sent: []int64{recipient.ChatID}}
}

// Паника в транспорте считается обычной ошибкой отправки
func safeSend(send func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while sending: %v\n%s", p, debug.Stack())
		}
	}()
	return send()
}

// enrich делает выжимку один раз на статью, а не на каждого получателя.
// Исходный срез не меняется.
func (n *Notifier) enrich(ctx context.Context, articles []model.Article) []model.Article {
	if n.summarizer == nil {
		return articles
	}

	out := make([]model.Article, len(articles))
	copy(out, articles)

	for i := range out {
		// Готовое описание из ленты не трогаем
		if out[i].Summary != "" {
			continue
		}
		summary, err := n.extractSummary(ctx, out[i])
		if err != nil {
			n.log.Warn().Err(err).Str("link", out[i].Link).Msg("failed to summarize article")
			continue
		}
		if summary != "" {
			out[i].Summary = summary
		}
	}

	return out
}

// Если у статьи есть summary, gpt получает его. Иначе идем по ссылке и вытаскиваем текст страницы
func (n *Notifier) extractSummary(ctx context.Context, article model.Article) (string, error) {
	if n.pages == nil {
		return "", nil
	}

	page, err := n.pages.Fetch(ctx, article.Link, 3, time.Second)
	if err != nil {
		return "", err
	}

	doc, err := readability.FromReader(bytes.NewReader(page), nil)
	if err != nil {
		return "", err
	}

	return n.summarizer.Summarize(ctx, cleanText(doc.TextContent))
}

// readability оставляет много пустых строк, схлопываем их
var redundantNewLines = regexp.MustCompile(`\n{3,}`)

func cleanText(text string) string {
	return redundantNewLines.ReplaceAllString(text, "\n")
}
