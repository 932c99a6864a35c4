package source

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

// Селекторы страницы новостей MAL
const (
	unitSelector    = "div.news-unit"
	titleSelector   = "p.title"
	summarySelector = "div.text"
	infoSelector    = "p.info"
	imageSelector   = "a.image-link img"
)

// extractHTML разбирает страницу новостей. Блок без заголовка или без ссылки пропускается,
// это не ошибка всего разбора.
func extractHTML(raw []byte, base *url.URL, log zerolog.Logger) ([]model.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var items []model.Item

	doc.Find(unitSelector).Each(func(i int, unit *goquery.Selection) {
		titleTag := unit.Find(titleSelector).First()
		title := strings.TrimSpace(titleTag.Text())
		if titleTag.Length() == 0 || title == "" {
			log.Debug().Int("unit", i).Msg("skipping news unit without title")
			return
		}

		href, ok := titleTag.Find("a").First().Attr("href")
		link := resolveLink(base, href)
		if !ok || link == "" {
			log.Debug().Int("unit", i).Str("title", title).Msg("skipping news unit without link")
			return
		}

		items = append(items, model.Item{
			Title:          title,
			Summary:        strings.TrimSpace(unit.Find(summarySelector).First().Text()),
			Link:           link,
			PublishedLabel: publishedLabel(unit.Find(infoSelector).First()),
			ImageURL:       NormalizeImageURL(imageSource(unit.Find(imageSelector).First())),
		})
	})

	log.Debug().Int("items", len(items)).Msg("html extraction done")

	return items, nil
}

// Дата лежит первым текстовым узлом в p.info, дальше идет "by <author>"
func publishedLabel(info *goquery.Selection) string {
	if info.Length() == 0 {
		return ""
	}

	text := info.Contents().FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "#text"
	}).First().Text()

	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "by")

	return strings.TrimSpace(text)
}

func imageSource(img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"srcset", "data-srcset", "src", "data-src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if base == nil {
		return href
	}

	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
