package middleware

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestIsAdmin(t *testing.T) {
	admins := []int64{100, -1001}

	tests := []struct {
		name   string
		update tgbotapi.Update
		want   bool
	}{
		{
			name:   "admin user",
			update: tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 100}, Chat: &tgbotapi.Chat{ID: 100}}},
			want:   true,
		},
		{
			name:   "other user in admin chat",
			update: tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 5}, Chat: &tgbotapi.Chat{ID: 100}}},
			want:   false,
		},
		{
			name:   "listed channel post",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -1001}}},
			want:   true,
		},
		{
			name:   "unknown channel post",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -5}}},
			want:   false,
		},
		{
			name: "no message",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAdmin(admins, tt.update); got != tt.want {
				t.Errorf("IsAdmin = %v, want %v", got, tt.want)
			}
		})
	}
}
