package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/kovalyov-valentin/mal-news-bot/internal/model"
)

// Справочник подписчиков: пользователи и каналы, которым уходят новости
type SubscriberStorage struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSubscriberStorage(db *sqlx.DB) *SubscriberStorage {
	return &SubscriberStorage{db: db, now: time.Now}
}

// Recipients отдает всех активных получателей в порядке подписки
func (s *SubscriberStorage) Recipients(ctx context.Context) ([]model.Recipient, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, storeErr("conn", err)
	}
	defer conn.Close()

	var subscribers []dbSubscriber
	if err := conn.SelectContext(ctx, &subscribers, s.db.Rebind(
		`SELECT chat_id, kind, subscribed, created_at FROM subscribers
		 WHERE subscribed = ? ORDER BY created_at ASC, chat_id ASC`), true); err != nil {
		return nil, storeErr("recipients", err)
	}

	return lo.Map(subscribers, func(sub dbSubscriber, _ int) model.Recipient {
		return sub.toModel()
	}), nil
}

// Subscribe включает рассылку для чата. Тип получателя определяется по знаку chat id
func (s *SubscriberStorage) Subscribe(ctx context.Context, chatID int64) (model.Recipient, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return model.Recipient{}, storeErr("conn", err)
	}
	defer conn.Close()

	recipient := model.RecipientFromChatID(chatID)

	if _, err := conn.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO subscribers (chat_id, kind, subscribed, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET subscribed = excluded.subscribed, kind = excluded.kind`),
		chatID,
		recipient.Kind.String(),
		true,
		s.now().UnixNano(),
	); err != nil {
		return model.Recipient{}, storeErr("subscribe", err)
	}

	return recipient, nil
}

// Unsubscribe выключает рассылку. Возвращает false, если чат и так не был подписан
func (s *SubscriberStorage) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return false, storeErr("conn", err)
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, s.db.Rebind(
		`UPDATE subscribers SET subscribed = ? WHERE chat_id = ? AND subscribed = ?`),
		false, chatID, true,
	)
	if err != nil {
		return false, storeErr("unsubscribe", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("unsubscribe", err)
	}

	return n > 0, nil
}

// Внутренняя модель для работы с БД
type dbSubscriber struct {
	ChatID     int64  `db:"chat_id"`
	Kind       string `db:"kind"`
	Subscribed bool   `db:"subscribed"`
	CreatedAt  int64  `db:"created_at"`
}

// Знак chat id главнее сохраненного kind
func (s dbSubscriber) toModel() model.Recipient {
	return model.RecipientFromChatID(s.ChatID)
}
