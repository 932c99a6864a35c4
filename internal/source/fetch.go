package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"
)

const defaultUserAgent = "mal-news-bot/1.0"

// FetchFailure возвращается, когда все попытки загрузки исчерпаны
type FetchFailure struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s: %d attempts failed: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// Загрузчик сырых страниц с повторами через фиксированную паузу
type Fetcher struct {
	// Таймаут одной попытки
	timeout   time.Duration
	userAgent string
	log       zerolog.Logger
}

func NewFetcher(timeout time.Duration, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		timeout:   timeout,
		userAgent: defaultUserAgent,
		log:       log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch делает до maxRetries попыток и спит retryDelay между ними.
// После успешной попытки повторов нет. Если все попытки упали, возвращается *FetchFailure с последней ошибкой.
func (f *Fetcher) Fetch(ctx context.Context, url string, maxRetries int, retryDelay time.Duration) ([]byte, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var (
		collector = f.newCollector()
		body      []byte
		status    int
		lastErr   error
	)

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		status = r.StatusCode
	})

	f.log.Debug().Str("url", url).Msg("fetching")

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &FetchFailure{URL: url, Attempts: attempt - 1, Err: errors.Join(lastErr, err)}
		}
		body, status = nil, 0

		err := collector.Visit(url)
		switch {
		case err == nil && status >= 200 && status < 300:
			f.log.Debug().Str("url", url).Int("attempt", attempt).Int("bytes", len(body)).Msg("fetched")
			return body, nil
		case err == nil:
			err = fmt.Errorf("unexpected status %d", status)
		case status != 0:
			err = fmt.Errorf("status %d: %w", status, err)
		}
		lastErr = err

		f.log.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("fetch attempt failed")

		if attempt == maxRetries {
			break
		}

		if err := sleep(ctx, retryDelay); err != nil {
			return nil, &FetchFailure{URL: url, Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}

	f.log.Error().Err(lastErr).Str("url", url).Int("attempts", maxRetries).Msg("all fetch attempts failed")

	return nil, &FetchFailure{URL: url, Attempts: maxRetries, Err: lastErr}
}

func (f *Fetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		// Один и тот же урл запрашивается на каждой попытке
		colly.AllowURLRevisit(),
	)
	// Любой ответ отдается в OnResponse, успех определяется по коду
	c.ParseHTTPErrorResponse = true
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
