package model

import (
	"strconv"
	"time"
)

// Кандидат в статьи, как его отдает экстрактор. Поля сырые, кроме ImageURL
type Item struct {
	// Заголовок, обязательный
	Title string
	// Краткая выжимка, может быть пустой
	Summary string
	// Ссылка на статью, из нее считается ID
	Link string
	// Дата в том виде, в котором ее показывает сайт
	PublishedLabel string
	// Уже нормализованный урл картинки
	ImageURL string
	// Категории (есть только у RSS)
	Categories []string
}

// Статья, которая лежит в кэше новостей
type Article struct {
	// sha256 от ссылки
	ID             string
	Title          string
	Summary        string
	Link           string
	PublishedLabel string
	ImageURL       string
	// Время попадания в кэш, строго возрастает в порядке вставки
	CachedAt time.Time
}

func (a Article) HasImage() bool {
	return a.ImageURL != ""
}

type RecipientKind int

const (
	KindUser RecipientKind = iota + 1
	KindChannel
)

func (k RecipientKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Получатель рассылки
type Recipient struct {
	ChatID int64
	Kind   RecipientKind
}

func User(chatID int64) Recipient {
	return Recipient{ChatID: chatID, Kind: KindUser}
}

func Channel(chatID int64) Recipient {
	return Recipient{ChatID: chatID, Kind: KindChannel}
}

// RecipientFromChatID восстанавливает тип получателя по знаку chat id:
// отрицательные id у каналов и групп, положительные у пользователей.
func RecipientFromChatID(chatID int64) Recipient {
	if chatID < 0 {
		return Channel(chatID)
	}
	return User(chatID)
}

func (r Recipient) IsChannel() bool {
	return r.Kind == KindChannel
}

func (r Recipient) String() string {
	return r.Kind.String() + ":" + strconv.FormatInt(r.ChatID, 10)
}

type IngestStatus int

const (
	Inserted IngestStatus = iota + 1
	Skipped
	Failed
)

func (s IngestStatus) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Что случилось с одним кандидатом при сохранении
type IngestOutcome struct {
	ID     string
	Link   string
	Status IngestStatus
	// Заполнено только для Failed
	Reason error
}

type IngestResult struct {
	NewCount    int
	NewArticles []Article
	Outcomes    []IngestOutcome
	// Сколько старых статей вытеснено после вставки
	Evicted int
}

// Неудачная отправка одному получателю. ArticleID пустой, если падал дайджест
type SendFailure struct {
	ChatID    int64
	ArticleID string
	Err       error
}

// Итог рассылки. Sent содержит chat id на каждое успешно отправленное сообщение
type FanoutReport struct {
	Sent   []int64
	Failed []SendFailure
}

func (r FanoutReport) Empty() bool {
	return len(r.Sent) == 0 && len(r.Failed) == 0
}
