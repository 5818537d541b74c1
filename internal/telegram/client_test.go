package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotPath, gotChatID, gotText, gotParseMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotChatID = r.URL.Query().Get("chat_id")
		gotText = r.URL.Query().Get("text")
		gotParseMode = r.URL.Query().Get("parse_mode")
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := NewClient("TESTTOKEN")
	c.SetBaseURL(srv.URL)

	if err := c.SendMessage(context.Background(), 12345, "hello *world*"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotPath != "/botTESTTOKEN/sendMessage" {
		t.Errorf("path = %q, want /botTESTTOKEN/sendMessage", gotPath)
	}
	if gotChatID != "12345" {
		t.Errorf("chat_id = %q, want 12345", gotChatID)
	}
	if gotText != "hello *world*" {
		t.Errorf("text = %q", gotText)
	}
	if gotParseMode != "Markdown" {
		t.Errorf("parse_mode = %q, want Markdown", gotParseMode)
	}
}

func TestGetUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("offset"); got != "7" {
			t.Errorf("offset = %q, want 7", got)
		}
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":7,"message":{"chat":{"id":111},"from":{"username":"ana","first_name":"Ana"},"text":"8"}},
			{"update_id":8,"message":{"chat":{"id":222},"text":"hello"}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("TESTTOKEN")
	c.SetBaseURL(srv.URL)

	updates, err := c.GetUpdates(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	if updates[0].UpdateID != 7 || updates[0].Message == nil || updates[0].Message.Text != "8" {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	if updates[0].Message.From == nil || updates[0].Message.From.Username != "ana" {
		t.Errorf("updates[0].From = %+v", updates[0].Message.From)
	}
	if updates[1].Message.Chat.ID != 222 {
		t.Errorf("updates[1].Chat.ID = %d, want 222", updates[1].Message.Chat.ID)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	c := NewClient("BADTOKEN")
	c.SetBaseURL(srv.URL)

	if err := c.SendMessage(context.Background(), 1, "hi"); err == nil {
		t.Error("SendMessage expected error for ok=false response")
	}
}
