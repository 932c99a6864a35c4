package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
	"github.com/kovalyov-valentin/mal-news-bot/internal/scheduler"
)

type fakeFetcher struct {
	body []byte
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ int, _ time.Duration) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.body, f.err
}

type fakeExtractor struct {
	items []model.Item
}

func (f *fakeExtractor) Extract([]byte) ([]model.Item, error) {
	return f.items, nil
}

type fakeStore struct {
	seen     map[string]bool
	received []model.Item
	err      error
}

func (f *fakeStore) Ingest(_ context.Context, items []model.Item, _ int) (model.IngestResult, error) {
	if f.err != nil {
		return model.IngestResult{}, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.received = items
	var res model.IngestResult
	for _, item := range items {
		if f.seen[item.Link] {
			continue
		}
		f.seen[item.Link] = true
		res.NewArticles = append(res.NewArticles, model.Article{ID: item.Link, Title: item.Title, Link: item.Link})
	}
	res.NewCount = len(res.NewArticles)
	return res, nil
}

type fakeDirectory struct {
	recipients []model.Recipient
	calls      int
}

func (f *fakeDirectory) Recipients(context.Context) ([]model.Recipient, error) {
	f.calls++
	return f.recipients, nil
}

type fakeDistributor struct {
	articles []model.Article
	report   model.FanoutReport
}

func (f *fakeDistributor) Fanout(_ context.Context, articles []model.Article, _ []model.Recipient) model.FanoutReport {
	f.articles = articles
	return f.report
}

type fakeReporter struct {
	titles []string
}

func (f *fakeReporter) ReportFailure(_ context.Context, title string, _ map[string]any, _ error) {
	f.titles = append(f.titles, title)
}

type fakeStatus struct {
	mu    sync.Mutex
	chats []int64
	texts []string
}

func (f *fakeStatus) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	f.texts = append(f.texts, text)
	return nil
}

type harness struct {
	fetcher     *fakeFetcher
	extractor   *fakeExtractor
	store       *fakeStore
	directory   *fakeDirectory
	distributor *fakeDistributor
	reporter    *fakeReporter
	status      *fakeStatus
	pipeline    *Pipeline
}

func newHarness(items []model.Item, keywords ...string) *harness {
	h := &harness{
		fetcher:     &fakeFetcher{body: []byte("<html></html>")},
		extractor:   &fakeExtractor{items: items},
		store:       &fakeStore{},
		directory:   &fakeDirectory{recipients: []model.Recipient{model.User(1), model.Channel(-1)}},
		distributor: &fakeDistributor{},
		reporter:    &fakeReporter{},
		status:      &fakeStatus{},
	}
	h.pipeline = New(
		Config{URL: "https://example.com/news", Retries: 3, RetryDelay: time.Millisecond, MaxCache: 50, FilterKeywords: keywords},
		h.fetcher, h.extractor, h.store, h.directory, h.distributor, h.reporter, h.status,
		zerolog.Nop(),
	)
	return h
}

func sampleItems() []model.Item {
	return []model.Item{
		{Title: "New season announced", Link: "https://example.com/1"},
		{Title: "Manga goes on hiatus", Link: "https://example.com/2", Categories: []string{"Manga"}},
		{Title: "Movie box office", Link: "https://example.com/3"},
	}
}

func TestRunDeliversNewArticles(t *testing.T) {
	h := newHarness(sampleItems())
	h.distributor.report = model.FanoutReport{Sent: []int64{1, 1, 1, -1, -1, -1}}

	res, err := h.pipeline.Run(context.Background(), "42")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID == "" {
		t.Error("expected run id")
	}
	if res.New != 3 || len(h.distributor.articles) != 3 {
		t.Errorf("expected 3 new articles handed to fan-out, got %d / %d", res.New, len(h.distributor.articles))
	}
	if h.fetcher.urls[0] != "https://example.com/news" {
		t.Errorf("fetched wrong url %v", h.fetcher.urls)
	}
	if len(h.status.chats) != 1 || h.status.chats[0] != 42 {
		t.Errorf("expected status to origin chat, got %v", h.status.chats)
	}
	if !strings.Contains(h.status.texts[0], "3 new articles") {
		t.Errorf("unexpected status %q", h.status.texts[0])
	}
	if len(h.reporter.titles) != 0 {
		t.Errorf("unexpected alerts: %v", h.reporter.titles)
	}
}

func TestRunSkipsFanoutWithoutNewArticles(t *testing.T) {
	h := newHarness(sampleItems())

	if _, err := h.pipeline.Run(context.Background(), "auto"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	h.distributor.articles = nil
	calls := h.directory.calls

	res, err := h.pipeline.Run(context.Background(), "auto")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.New != 0 {
		t.Errorf("expected nothing new, got %d", res.New)
	}
	if h.distributor.articles != nil || h.directory.calls != calls {
		t.Error("fan-out should not run without new articles")
	}
	if len(h.status.chats) != 0 {
		t.Error("non-chat origin must not get a status message")
	}
}

func TestRunFiltersKeywords(t *testing.T) {
	h := newHarness(sampleItems(), "MANGA", "box office")

	res, err := h.pipeline.Run(context.Background(), "auto")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Filtered != 2 || res.New != 1 {
		t.Errorf("expected 2 filtered and 1 new, got %+v", res)
	}
	if len(h.store.received) != 1 || h.store.received[0].Link != "https://example.com/1" {
		t.Errorf("unexpected items reached the store: %+v", h.store.received)
	}
}

func TestRunReturnsFetchFailure(t *testing.T) {
	h := newHarness(nil)
	h.fetcher.err = errors.New("connection refused")

	_, err := h.pipeline.Run(context.Background(), "7")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if h.store.received != nil {
		t.Error("store must not be touched after a failed fetch")
	}
	if len(h.status.texts) != 1 || !strings.HasPrefix(h.status.texts[0], "Update failed") {
		t.Errorf("expected failure status, got %v", h.status.texts)
	}
}

func TestRunReturnsStoreFailure(t *testing.T) {
	h := newHarness(sampleItems())
	h.store.err = errors.New("disk full")

	if _, err := h.pipeline.Run(context.Background(), "auto"); err == nil {
		t.Fatal("expected error")
	}
	if h.distributor.articles != nil {
		t.Error("fan-out must not run after a failed ingest")
	}
}

func TestRunReportsPartialDelivery(t *testing.T) {
	h := newHarness(sampleItems())
	h.distributor.report = model.FanoutReport{
		Sent:   []int64{1, 1, 1},
		Failed: []model.SendFailure{{ChatID: -1, ArticleID: "x", Err: errors.New("forbidden")}},
	}

	if _, err := h.pipeline.Run(context.Background(), "auto"); err != nil {
		t.Fatalf("partial delivery is not a tick failure: %v", err)
	}
	if len(h.reporter.titles) != 1 {
		t.Errorf("expected one alert, got %v", h.reporter.titles)
	}
}

func TestControllerSchedulesPipeline(t *testing.T) {
	h := newHarness(sampleItems())
	s := scheduler.New(nil, zerolog.Nop())
	defer s.Stop()

	c := NewController(s, h.pipeline, time.Hour)

	replaced, err := c.RequestSchedule("42", 0)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if replaced {
		t.Error("first request should not replace")
	}

	jobs := c.Jobs()
	if len(jobs) != 1 || jobs[0].Spec != time.Hour.String() {
		t.Errorf("expected default interval job, got %+v", jobs)
	}

	replaced, err = c.RequestSchedule("42", time.Minute)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !replaced {
		t.Error("second request should replace")
	}

	if !c.RequestCancel("42") {
		t.Error("cancel should remove the job")
	}
	if len(c.Jobs()) != 0 {
		t.Error("expected no jobs after cancel")
	}
}
