package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateReply(t *testing.T) {
	var gotPath string
	var gotPrompt string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 1 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "Thanks, "}, {"text": "will do."}}}},
			},
		})
	}))
	defer srv.Close()

	c := NewWithBaseURL("key", "test-model", srv.URL)
	reply, err := c.GenerateReply(context.Background(), "alice@example.com", "Meeting", "Can we move it?", "accept politely")
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply != "Thanks, will do." {
		t.Errorf("reply = %q", reply)
	}
	if gotPath != "/models/test-model:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	for _, want := range []string{"alice@example.com", "Meeting", "Can we move it?", "accept politely"} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateReply_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWithBaseURL("key", "", srv.URL)
	_, err := c.GenerateReply(context.Background(), "a", "b", "c", "d")
	if err == nil {
		t.Fatal("expected error on HTTP 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestGenerateReply_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := NewWithBaseURL("key", "", srv.URL)
	if _, err := c.GenerateReply(context.Background(), "a", "b", "c", "d"); err == nil {
		t.Fatal("expected error on empty candidates")
	}
}
