package source

import (
	"net/url"
	"regexp"
	"strings"
)

// Сегмент пути с размером картинки, например 100x156
var sizeSegment = regexp.MustCompile(`^\d+x\d+$`)

// NormalizeImageURL убирает из урла картинки все, что зависит от размера превью:
// сегменты вида <width>x<height> (вместе с префиксом ресайза "r" перед ними) и query параметры.
// На вход можно передавать и значение srcset, берется первый кандидат.
func NormalizeImageURL(raw string) string {
	raw = firstSrcsetCandidate(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}

	segments := strings.Split(u.Path, "/")
	kept := make([]string, 0, len(segments))
	for i, seg := range segments {
		if sizeSegment.MatchString(seg) {
			continue
		}
		// MAL отдает превью как /r/<w>x<h>/..., оригинал лежит без /r/
		if seg == "r" && i+1 < len(segments) && sizeSegment.MatchString(segments[i+1]) {
			continue
		}
		kept = append(kept, seg)
	}

	u.Path = strings.Join(kept, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""

	return u.String()
}

func firstSrcsetCandidate(srcset string) string {
	srcset = strings.TrimSpace(srcset)
	if srcset == "" {
		return ""
	}

	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
