package markup

import "strings"

// Спецсимволы MarkdownV2, которые телеграм требует экранировать в обычном тексте
const specialChars = "\\_*[]()~`>#+-=|{}.!"

var (
	replacer = newReplacer(specialChars)
	// Внутри (...) у ссылки экранируются только ) и \
	linkReplacer = newReplacer("\\)")
)

func newReplacer(chars string) *strings.Replacer {
	pairs := make([]string, 0, len(chars)*2)
	for _, c := range chars {
		pairs = append(pairs, string(c), "\\"+string(c))
	}
	return strings.NewReplacer(pairs...)
}

// Функция которая делает escape спец символы markdown специально для телеграма
func EscapeForMarkdown(src string) string {
	return replacer.Replace(src)
}

// EscapeLinkURL экранирует урл для [текст](урл)
func EscapeLinkURL(src string) string {
	return linkReplacer.Replace(src)
}
