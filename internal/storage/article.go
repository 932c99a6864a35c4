package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

const defaultLatestLimit = 5

var errNoLink = errors.New("article has no link")

// ArticleID считает идентификатор статьи по ее ссылке: одна ссылка всегда дает один id
func ArticleID(link string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(link)))
	return hex.EncodeToString(sum[:])
}

// Кэш новостей с ограничением по размеру
type ArticleStorage struct {
	db *sqlx.DB
	// Вставка с проверкой и вытеснением должна идти строго по одной
	mu  sync.Mutex
	now func() time.Time
}

func NewArticleStorage(db *sqlx.DB) *ArticleStorage {
	return &ArticleStorage{
		db:  db,
		now: time.Now,
	}
}

// Ingest сохраняет новые статьи и пропускает уже известные.
// Вся пачка идет одной транзакцией: при ошибке ничего не записывается.
// После вставки лишние статьи вытесняются от самых старых по cached_at.
func (s *ArticleStorage) Ingest(ctx context.Context, items []model.Item, maxCache int) (model.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result model.IngestResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.IngestResult{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last struct {
		CachedAt int64 `db:"cached_at"`
		Seq      int64 `db:"seq"`
	}
	if err := tx.GetContext(ctx, &last, `SELECT COALESCE(MAX(cached_at), 0) AS cached_at, COALESCE(MAX(seq), 0) AS seq FROM news_cache`); err != nil {
		return model.IngestResult{}, storeErr("select last", err)
	}

	var (
		seen     = make(map[string]struct{}, len(items))
		cachedAt = last.CachedAt
		seq      = last.Seq
	)

	for _, item := range items {
		if strings.TrimSpace(item.Link) == "" {
			result.Outcomes = append(result.Outcomes, model.IngestOutcome{
				Link:   item.Link,
				Status: model.Failed,
				Reason: errNoLink,
			})
			continue
		}

		id := ArticleID(item.Link)
		if _, dup := seen[id]; dup {
			result.Outcomes = append(result.Outcomes, model.IngestOutcome{ID: id, Link: item.Link, Status: model.Skipped})
			continue
		}
		seen[id] = struct{}{}

		var exists int
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(1) FROM news_cache WHERE id = ?`), id); err != nil {
			return model.IngestResult{}, storeErr("lookup", err)
		}
		if exists > 0 {
			result.Outcomes = append(result.Outcomes, model.IngestOutcome{ID: id, Link: item.Link, Status: model.Skipped})
			continue
		}

		cachedAt = s.nextCachedAt(cachedAt)
		seq++

		article := dbArticle{
			ID:             id,
			Title:          item.Title,
			Summary:        item.Summary,
			Link:           item.Link,
			PublishedLabel: item.PublishedLabel,
			ImageURL:       item.ImageURL,
			CachedAt:       cachedAt,
			Seq:            seq,
		}

		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO news_cache (id, title, summary, link, published_label, image_url, cached_at, seq)
			 VALUES (:id, :title, :summary, :link, :published_label, :image_url, :cached_at, :seq)`,
			article,
		); err != nil {
			return model.IngestResult{}, storeErr("insert", err)
		}

		result.NewArticles = append(result.NewArticles, article.toModel())
		result.Outcomes = append(result.Outcomes, model.IngestOutcome{ID: id, Link: item.Link, Status: model.Inserted})
	}

	result.NewCount = len(result.NewArticles)

	if maxCache > 0 {
		evicted, err := evictOldest(ctx, tx, maxCache)
		if err != nil {
			return model.IngestResult{}, err
		}
		result.Evicted = evicted
	}

	if err := tx.Commit(); err != nil {
		return model.IngestResult{}, storeErr("commit", err)
	}

	return result, nil
}

// cached_at должен строго расти, даже если часы не сдвинулись между вставками
func (s *ArticleStorage) nextCachedAt(prev int64) int64 {
	now := s.now().UnixNano()
	if now <= prev {
		return prev + 1
	}
	return now
}

func evictOldest(ctx context.Context, tx *sqlx.Tx, maxCache int) (int, error) {
	var total int
	if err := tx.GetContext(ctx, &total, `SELECT COUNT(1) FROM news_cache`); err != nil {
		return 0, storeErr("count", err)
	}
	if total <= maxCache {
		return 0, nil
	}

	toDelete := total - maxCache
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM news_cache WHERE id IN (
			SELECT id FROM news_cache ORDER BY cached_at ASC, seq ASC LIMIT ?
		)`), toDelete)
	if err != nil {
		return 0, storeErr("evict", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return toDelete, nil
	}
	return int(n), nil
}

// Latest отдает последние статьи, новые сверху
func (s *ArticleStorage) Latest(ctx context.Context, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = defaultLatestLimit
	}

	var articles []dbArticle
	if err := s.db.SelectContext(ctx, &articles, s.db.Rebind(
		`SELECT id, title, summary, link, published_label, image_url, cached_at, seq
		 FROM news_cache ORDER BY cached_at DESC, seq DESC LIMIT ?`), limit); err != nil {
		return nil, storeErr("latest", err)
	}

	return lo.Map(articles, func(a dbArticle, _ int) model.Article {
		return a.toModel()
	}), nil
}

func (s *ArticleStorage) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM news_cache`); err != nil {
		return 0, storeErr("count", err)
	}
	return total, nil
}

// Внутренняя модель для маппинга на колонки
type dbArticle struct {
	ID             string `db:"id"`
	Title          string `db:"title"`
	Summary        string `db:"summary"`
	Link           string `db:"link"`
	PublishedLabel string `db:"published_label"`
	ImageURL       string `db:"image_url"`
	CachedAt       int64  `db:"cached_at"`
	Seq            int64  `db:"seq"`
}

func (a dbArticle) toModel() model.Article {
	return model.Article{
		ID:             a.ID,
		Title:          a.Title,
		Summary:        a.Summary,
		Link:           a.Link,
		PublishedLabel: a.PublishedLabel,
		ImageURL:       a.ImageURL,
		CachedAt:       time.Unix(0, a.CachedAt).UTC(),
	}
}
