package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTelegramSendDeliversMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer server.Close()

	notifier, err := NewTelegram(TelegramSettings{
		Enabled:    true,
		BotToken:   "bot-token",
		APIBaseURL: server.URL,
	})
	require.NoError(t, err)

	err = notifier.Send(context.Background(), Message{
		ChatID: 1234,
		Kind:   KindLoginConfirm,
		Text:   "confirm link",
	})
	require.NoError(t, err)

	require.Equal(t, "/botbot-token/sendMessage", gotPath)
	require.EqualValues(t, 1234, gotBody.ChatID)
	require.Equal(t, "confirm link", gotBody.Text)
}

func TestTelegramSendSurfacesAPIRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(sendMessageResponse{
			OK:          false,
			Description: "bot was blocked by the user",
		})
	}))
	defer server.Close()

	notifier, err := NewTelegram(TelegramSettings{
		Enabled:    true,
		BotToken:   "bot-token",
		APIBaseURL: server.URL,
	})
	require.NoError(t, err)

	err = notifier.Send(context.Background(), Message{ChatID: 1, Kind: KindAccountLock, Text: "locked"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocked by the user")
}

func TestTelegramDisabledShortCircuits(t *testing.T) {
	notifier, err := NewTelegram(TelegramSettings{Enabled: false})
	require.NoError(t, err)

	err = notifier.Send(context.Background(), Message{ChatID: 1, Text: "hello"})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestTelegramValidatesInputs(t *testing.T) {
	_, err := NewTelegram(TelegramSettings{Enabled: true})
	require.Error(t, err)

	notifier, err := NewTelegram(TelegramSettings{Enabled: true, BotToken: "x"})
	require.NoError(t, err)

	require.Error(t, notifier.Send(context.Background(), Message{Text: "no chat"}))
	require.Error(t, notifier.Send(context.Background(), Message{ChatID: 5}))
}
