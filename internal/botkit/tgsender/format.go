package tgsender

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/kovalyov-valentin/mal-news-bot/internal/botkit/markup"
	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

// Лимиты телеграма в символах
const (
	MaxTextLen    = 4096
	MaxCaptionLen = 1024
)

const ellipsis = "…"

// FormatArticle собирает сообщение в MarkdownV2: жирный заголовок, дата, выжимка и ссылка.
// Если не влезает в limit, сначала режется выжимка, потом заголовок.
func FormatArticle(article model.Article, limit int) string {
	title, summary := article.Title, article.Summary

	for {
		text := formatArticle(title, summary, article.PublishedLabel, article.Link)
		over := utf8.RuneCountInString(text) - limit
		if over <= 0 {
			return text
		}

		switch {
		case summary != "":
			summary = cut(summary, over)
		case title != "":
			title = cut(title, over)
		default:
			return truncateRunes(text, limit)
		}
	}
}

func formatArticle(title, summary, label, link string) string {
	var b strings.Builder

	b.WriteString("*")
	b.WriteString(markup.EscapeForMarkdown(title))
	b.WriteString("*")

	if label != "" {
		b.WriteString("\n_")
		b.WriteString(markup.EscapeForMarkdown(label))
		b.WriteString("_")
	}

	if summary != "" {
		b.WriteString("\n\n")
		b.WriteString(markup.EscapeForMarkdown(summary))
	}

	b.WriteString("\n\n[Read more](")
	b.WriteString(markup.EscapeLinkURL(link))
	b.WriteString(")")

	return b.String()
}

// FormatDigest перечисляет заголовки ссылками в порядке ленты.
// Если список не влезает в сообщение, хвост заменяется счетчиком.
func FormatDigest(articles []model.Article) string {
	header := fmt.Sprintf("*%d new articles*\n", len(articles))

	lines := lo.Map(articles, func(a model.Article, i int) string {
		return fmt.Sprintf("%d\\. [%s](%s)", i+1, markup.EscapeForMarkdown(a.Title), markup.EscapeLinkURL(a.Link))
	})

	text := header + "\n" + strings.Join(lines, "\n")
	for shown := len(lines) - 1; utf8.RuneCountInString(text) > MaxTextLen && shown > 0; shown-- {
		text = header + "\n" + strings.Join(lines[:shown], "\n") +
			markup.EscapeForMarkdown(fmt.Sprintf("\n…and %d more", len(lines)-shown))
	}

	return text
}

// cut укорачивает строку на n символов и еще на один под многоточие.
// Экранирование может удлинить текст, поэтому FormatArticle повторяет проверку.
func cut(s string, n int) string {
	runes := []rune(strings.TrimSuffix(s, ellipsis))
	keep := len(runes) - n - 1
	if keep <= 0 {
		return ""
	}
	return strings.TrimSpace(string(runes[:keep])) + ellipsis
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
