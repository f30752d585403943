package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ArticleClusterer/internal/config"
)

func TestNotifyPostsForm(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok", ChatID: "99", Endpoint: server.URL + "/"})
	if err := n.Notify(context.Background(), "3 articles failed"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotPath != "/bottok/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotChat != "99" || gotText != "3 articles failed" {
		t.Fatalf("unexpected form chat=%q text=%q", gotChat, gotText)
	}
}

func TestNotifyTruncatesLongMessages(t *testing.T) {
	t.Parallel()

	var gotLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotLen = len([]rune(r.PostForm.Get("text")))
	}))
	defer server.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok", ChatID: "1", Endpoint: server.URL})
	if err := n.Notify(context.Background(), strings.Repeat("ж", maxMessageRunes+10)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotLen != maxMessageRunes {
		t.Fatalf("expected %d runes, got %d", maxMessageRunes, gotLen)
	}
}

func TestNotifyErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier(config.TelegramConfig{}).Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected misconfiguration error")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok", ChatID: "1", Endpoint: server.URL})
	if err := n.Notify(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}
