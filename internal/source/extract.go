package source

import (
	"bytes"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

// Extractor превращает сырую страницу в список кандидатов.
// Результат зависит только от входа, состояния между вызовами нет.
type Extractor struct {
	base *url.URL
	log  zerolog.Logger
}

// NewExtractor принимает урл страницы, относительно которого резолвятся относительные ссылки
func NewExtractor(pageURL string, log zerolog.Logger) *Extractor {
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" {
		base = nil
	}

	return &Extractor{
		base: base,
		log:  log.With().Str("component", "extractor").Logger(),
	}
}

func (e *Extractor) Extract(raw []byte) ([]model.Item, error) {
	if isFeed(raw) {
		return extractRSS(raw, e.log)
	}
	return extractHTML(raw, e.base, e.log)
}

// Ленты определяем по началу документа
func isFeed(raw []byte) bool {
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))

	if bytes.HasPrefix(head, []byte("<?xml")) {
		return !bytes.Contains(head, []byte("<html"))
	}
	return bytes.HasPrefix(head, []byte("<rss")) || bytes.HasPrefix(head, []byte("<feed"))
}
