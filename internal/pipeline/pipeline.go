package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tomakado/containers/set"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
	"github.com/kovalyov-valentin/mal-news-bot/internal/scheduler"
)

// Сколько ошибок отправки попадает в алерт, остальные только считаются
const maxReportedFailures = 5

type Fetcher interface {
	Fetch(ctx context.Context, url string, maxRetries int, retryDelay time.Duration) ([]byte, error)
}

type Extractor interface {
	Extract(raw []byte) ([]model.Item, error)
}

type ArticleStore interface {
	Ingest(ctx context.Context, items []model.Item, maxCache int) (model.IngestResult, error)
}

type RecipientDirectory interface {
	Recipients(ctx context.Context) ([]model.Recipient, error)
}

type Distributor interface {
	Fanout(ctx context.Context, articles []model.Article, recipients []model.Recipient) model.FanoutReport
}

type StatusSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	URL        string
	Retries    int
	RetryDelay time.Duration
	MaxCache   int
	// Статьи с этими словами в заголовке или категориях не сохраняются
	FilterKeywords []string
}

// Итог одного тика
type Result struct {
	RunID      string
	Candidates int
	Filtered   int
	New        int
	Evicted    int
	Report     model.FanoutReport
}

// Pipeline это один проход: скачать, разобрать, отфильтровать, сохранить, разослать
type Pipeline struct {
	cfg         Config
	keywords    []string
	fetcher     Fetcher
	extractor   Extractor
	articles    ArticleStore
	recipients  RecipientDirectory
	distributor Distributor
	reporter    scheduler.Reporter
	status      StatusSender
	log         zerolog.Logger
}

func New(
	cfg Config,
	fetcher Fetcher,
	extractor Extractor,
	articles ArticleStore,
	recipients RecipientDirectory,
	distributor Distributor,
	reporter scheduler.Reporter,
	status StatusSender,
	log zerolog.Logger,
) *Pipeline {
	keywords := lo.FilterMap(cfg.FilterKeywords, func(k string, _ int) (string, bool) {
		k = strings.ToLower(strings.TrimSpace(k))
		return k, k != ""
	})

	return &Pipeline{
		cfg:         cfg,
		keywords:    keywords,
		fetcher:     fetcher,
		extractor:   extractor,
		articles:    articles,
		recipients:  recipients,
		distributor: distributor,
		reporter:    reporter,
		status:      status,
		log:         log.With().Str("component", "pipeline").Logger(),
	}
}

// Tick заворачивает Run в задачу для планировщика
func (p *Pipeline) Tick(origin string) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := p.Run(ctx, origin)
		return err
	}
}

// Run выполняет один проход. Ошибка возвращается, если тик не дошел до рассылки.
// Частичные ошибки рассылки не считаются ошибкой тика, они уходят в алерты.
func (p *Pipeline) Run(ctx context.Context, origin string) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	log := p.log.With().Str("origin", origin).Str("run_id", result.RunID).Logger()

	start := time.Now()
	log.Info().Str("url", p.cfg.URL).Msg("tick started")

	err := p.run(ctx, log, &result)
	if err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("tick failed")
		p.notifyOrigin(ctx, log, origin, fmt.Sprintf("Update failed: %v", err))
		return result, err
	}

	log.Info().
		Int("candidates", result.Candidates).
		Int("filtered", result.Filtered).
		Int("new", result.New).
		Int("evicted", result.Evicted).
		Int("sent", len(result.Report.Sent)).
		Int("failed", len(result.Report.Failed)).
		Dur("took", time.Since(start)).
		Msg("tick finished")

	if len(result.Report.Failed) > 0 && p.reporter != nil {
		p.reporter.ReportFailure(ctx, "News delivery partially failed", map[string]any{
			"origin": origin,
			"run_id": result.RunID,
			"sent":   len(result.Report.Sent),
			"failed": len(result.Report.Failed),
		}, joinFailures(result.Report.Failed))
	}

	p.notifyOrigin(ctx, log, origin, statusText(result))

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, log zerolog.Logger, result *Result) error {
	raw, err := p.fetcher.Fetch(ctx, p.cfg.URL, p.cfg.Retries, p.cfg.RetryDelay)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	items, err := p.extractor.Extract(raw)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	result.Candidates = len(items)

	items = lo.Reject(items, func(item model.Item, _ int) bool {
		return p.itemShouldBeSkipped(item)
	})
	result.Filtered = result.Candidates - len(items)

	ingested, err := p.articles.Ingest(ctx, items, p.cfg.MaxCache)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	result.New = ingested.NewCount
	result.Evicted = ingested.Evicted

	for _, outcome := range ingested.Outcomes {
		if outcome.Status == model.Failed {
			log.Warn().Err(outcome.Reason).Str("link", outcome.Link).Msg("candidate rejected")
		}
	}

	if ingested.NewCount == 0 {
		return nil
	}

	recipients, err := p.recipients.Recipients(ctx)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	result.Report = p.distributor.Fanout(ctx, ingested.NewArticles, recipients)

	return nil
}

// Ключевое слово совпадает, если это категория статьи или часть заголовка
func (p *Pipeline) itemShouldBeSkipped(item model.Item) bool {
	if len(p.keywords) == 0 {
		return false
	}

	categories := set.New(lo.Map(item.Categories, func(c string, _ int) string {
		return strings.ToLower(c)
	})...)
	title := strings.ToLower(item.Title)

	for _, keyword := range p.keywords {
		if categories.Contains(keyword) || strings.Contains(title, keyword) {
			return true
		}
	}

	return false
}

// Статус уходит только если тик запустили из чата
func (p *Pipeline) notifyOrigin(ctx context.Context, log zerolog.Logger, origin, text string) {
	if p.status == nil {
		return
	}
	chatID, err := strconv.ParseInt(origin, 10, 64)
	if err != nil {
		return
	}
	if err := p.status.SendText(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send tick status")
	}
}

func statusText(r Result) string {
	if r.New == 0 {
		return "No new articles."
	}
	return fmt.Sprintf("%d new articles, sent %d, failed %d.", r.New, len(r.Report.Sent), len(r.Report.Failed))
}

func joinFailures(failures []model.SendFailure) error {
	errs := make([]error, 0, maxReportedFailures+1)
	for i, f := range failures {
		if i == maxReportedFailures {
			errs = append(errs, fmt.Errorf("and %d more", len(failures)-maxReportedFailures))
			break
		}
		if f.ArticleID == "" {
			errs = append(errs, fmt.Errorf("chat %d digest: %w", f.ChatID, f.Err))
			continue
		}
		errs = append(errs, fmt.Errorf("chat %d article %s: %w", f.ChatID, f.ArticleID, f.Err))
	}
	return errors.Join(errs...)
}
