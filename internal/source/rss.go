package source

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/SlyMarbo/rss"
	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

const rssDateLayout = "Jan 2, 3:04 PM"

// extractRSS разбирает RSS/Atom ленту в тот же формат кандидатов, что и html страница
func extractRSS(raw []byte, log zerolog.Logger) ([]model.Item, error) {
	feed, err := rss.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var items []model.Item
	for i, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		if title == "" || link == "" {
			log.Debug().Int("item", i).Msg("skipping feed item without title or link")
			continue
		}

		var label string
		if !item.Date.IsZero() {
			label = item.Date.UTC().Format(rssDateLayout)
		}

		summary := item.Summary
		if summary == "" {
			summary = item.Content
		}

		items = append(items, model.Item{
			Title:          title,
			Summary:        plainText(summary),
			Link:           link,
			PublishedLabel: label,
			ImageURL:       NormalizeImageURL(enclosureImage(item.Enclosures)),
			Categories:     item.Categories,
		})
	}

	log.Debug().Int("items", len(items)).Msg("feed extraction done")

	return items, nil
}

func enclosureImage(enclosures []*rss.Enclosure) string {
	for _, e := range enclosures {
		if e != nil && strings.HasPrefix(e.Type, "image/") {
			return e.URL
		}
	}
	return ""
}

// В описаниях лент часто лежит html, оставляем только текст
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
