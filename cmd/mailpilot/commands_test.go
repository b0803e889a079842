package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func useTestClient(t *testing.T, ts *testServer) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

var ctx = context.Background()

func TestClientSendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /rules": `[]`,
	})

	resp, err := ts.client().get(ctx, "/rules")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rs []ruleView
	if err := decodeJSON(resp, &rs); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if got := ts.requests[0].Auth; got != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", got)
	}
}

func TestDecodeJSONErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	if err := decodeJSON(resp, &v); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestRulesAddCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /rules": `{"id":"rule-abc-123","name":"Support","enabled":true,"conditions":[{"field":"subject","operator":"contains","value":"support"}],"replyInstructions":"ack","createdAt":"2026-01-02T03:04:05Z"}`,
	})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"rules", "add",
		"--name", "Support",
		"--condition", "subject:contains:support",
		"--condition", "from:equals:boss@example.com",
		"--reply", "ack",
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/rules" {
		t.Errorf("request = %s %s, want POST /rules", r.Method, r.Path)
	}

	var body struct {
		Name       string `json:"name"`
		Enabled    bool   `json:"enabled"`
		Conditions []struct {
			Field    string `json:"field"`
			Operator string `json:"operator"`
			Value    string `json:"value"`
		} `json:"conditions"`
		ReplyInstructions string `json:"replyInstructions"`
	}
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Name != "Support" {
		t.Errorf("name = %q", body.Name)
	}
	if !body.Enabled {
		t.Error("enabled = false, want true by default")
	}
	if len(body.Conditions) != 2 {
		t.Fatalf("conditions = %d, want 2", len(body.Conditions))
	}
	if c := body.Conditions[1]; c.Field != "from" || c.Operator != "equals" || c.Value != "boss@example.com" {
		t.Errorf("condition[1] = %+v", c)
	}
}

func TestRulesAddRejectsMalformedCondition(t *testing.T) {
	ts := newTestServer(t, nil)
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"rules", "add",
		"--name", "Bad",
		"--condition", "subject-contains-support",
		"--reply", "ack",
	})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for malformed condition")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestRulesEnableByPrefix(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /rules":              `[{"id":"rule-abc-123","name":"Support","enabled":false,"conditions":[],"replyInstructions":"ack","createdAt":"2026-01-02T03:04:05Z"}]`,
		"PUT /rules/rule-abc-123": `{"id":"rule-abc-123","name":"Support","enabled":true,"conditions":[],"replyInstructions":"ack","createdAt":"2026-01-02T03:04:05Z"}`,
	})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"rules", "enable", "rule-abc"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	put := ts.requests[1]
	if put.Method != "PUT" || put.Path != "/rules/rule-abc-123" {
		t.Errorf("request = %s %s, want PUT /rules/rule-abc-123", put.Method, put.Path)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(put.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["enabled"] != true {
		t.Errorf("enabled = %v, want true", body["enabled"])
	}
}

func TestRulesEnableUnknownID(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /rules": `[]`,
	})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"rules", "enable", "nothing"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for unknown rule ID")
	}
}

func TestRulesDeleteCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /rules/rule-abc-123": `{}`,
	})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"rules", "delete", "rule-abc-123"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if r := ts.requests[0]; r.Method != "DELETE" || r.Path != "/rules/rule-abc-123" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
}

func TestRunCommandDiagnostics(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /process": `{"message":"done","processed":1,"inspected":[{"from":"a@b.c","subject":"hi","matchedRule":"Support"}]}`,
	})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"run", "--diagnostics"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if got := ts.requests[0].Path; got != "/process?diagnostics=1" {
		t.Errorf("path = %q, want /process?diagnostics=1", got)
	}
}

func TestLogsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /logs": `[{"timestamp":"2026-01-02T03:04:05Z","emailFrom":"a@b.c","emailSubject":"hi","ruleName":"Support","status":"sent"}]`,
	})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"logs"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if r := ts.requests[0]; r.Method != "GET" || r.Path != "/logs" {
		t.Errorf("request = %s %s, want GET /logs", r.Method, r.Path)
	}
}
