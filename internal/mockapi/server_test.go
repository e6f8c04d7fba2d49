package mockapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gymchat/internal/domain"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(Options{})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]string{"foo": "bar"})

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestScreeningEndpoint(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/screen", domain.ScreeningRequest{Input: "what's a good squat warmup?"})
	got := decodeBody[domain.ScreeningResponse](t, resp)
	if got.Type != domain.ScreeningOnTopic {
		t.Fatalf("type = %s", got.Type)
	}
}

func TestChatStreamsAndStores(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/chat", domain.ChatRequest{
		Personality:    "GymBuddy",
		SessionSummary: domain.SessionSummary{SessionID: "s1"},
		Input:          "plan my 5k training",
	})
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var (
		text  strings.Builder
		lines int
		done  bool
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		var chunk string
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("chunk %q is not a JSON string: %v", payload, err)
		}
		text.WriteString(chunk)
		lines++
	}
	if !done || lines < 2 {
		t.Fatalf("done=%v lines=%d", done, lines)
	}
	if !strings.Contains(text.String(), "plan my 5k training") {
		t.Fatalf("reply = %q", text.String())
	}

	history := s.History("s1")
	if len(history) != 2 || !history[0].IsUser() || history[1].Content != text.String() {
		t.Fatalf("stored history = %+v", history)
	}
}

func TestMessagesPaging(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		s.Seed("s1", domain.ChatMessage{ID: string(rune('a' + i)), Role: domain.RoleUser, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	var ids []string
	continuation := ""
	for range 10 {
		resp := post(t, ts.URL+"/api/messages", domain.MessagesRequest{
			SessionSummary: domain.SessionSummary{SessionID: "s1"},
			Limit:          2,
			Continuation:   continuation,
		})
		page := decodeBody[domain.MessagesResponse](t, resp)
		for _, m := range page.Records {
			ids = append(ids, m.ID)
		}
		if page.Continuation == "" {
			break
		}
		continuation = page.Continuation
	}
	if strings.Join(ids, "") != "abcde" {
		t.Fatalf("ids = %v", ids)
	}

	resp := post(t, ts.URL+"/api/messages", domain.MessagesRequest{Limit: 2, Continuation: "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestArchiveWindowAndPaging(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 6 {
		s.Seed("s1", domain.ChatMessage{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	req := domain.ArchiveRequest{
		SessionID:     "s1",
		CreatedAfter:  base.Add(-time.Millisecond),
		CreatedBefore: base.Add(4 * time.Second),
		Limit:         3,
	}
	first := decodeBody[domain.ArchiveResponse](t, post(t, ts.URL+"/api/archive", req))
	if first.UpdatedCount != 3 || first.Continuation == "" {
		t.Fatalf("first page = %+v", first)
	}
	req.Continuation = first.Continuation
	second := decodeBody[domain.ArchiveResponse](t, post(t, ts.URL+"/api/archive", req))
	if second.UpdatedCount != 1 || second.Continuation != "" {
		t.Fatalf("second page = %+v", second)
	}

	history := s.History("s1")
	if len(history) != 2 || history[0].ID != "e" {
		t.Fatalf("live history = %+v", history)
	}
}

func TestSessionReusesID(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	req := domain.SessionRequest{UserDetails: domain.UserDetails{Email: "A@b.co"}, Personality: "GymBuddy"}
	first := decodeBody[domain.SessionResponse](t, post(t, ts.URL+"/api/session", req))
	second := decodeBody[domain.SessionResponse](t, post(t, ts.URL+"/api/session", req))
	if first.SessionID == "" || first.SessionID != second.SessionID {
		t.Fatalf("session ids = %q, %q", first.SessionID, second.SessionID)
	}
	if !first.ShowInterstitialPrompt || second.ShowInterstitialPrompt {
		t.Fatal("interstitial prompt should show only for a new session")
	}

	resp := post(t, ts.URL+"/api/session", domain.SessionRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCaptchaVerdicts(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	tests := []struct {
		token string
		want  domain.CaptchaResponse
	}{
		{token: "pass-123", want: domain.CaptchaResponse{IsValid: true, PassedThreshold: true, Score: 0.9}},
		{token: "low-123", want: domain.CaptchaResponse{IsValid: true, Score: 0.2}},
		{token: "garbage", want: domain.CaptchaResponse{}},
	}
	for _, tt := range tests {
		got := decodeBody[domain.CaptchaResponse](t, post(t, ts.URL+"/api/captcha", domain.CaptchaRequest{Token: tt.token}))
		if got != tt.want {
			t.Errorf("token %q: got %+v, want %+v", tt.token, got, tt.want)
		}
	}
}

func TestFailNextInjectsStatuses(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	s.FailNext("/api/screen", http.StatusBadGateway)

	if resp := post(t, ts.URL+"/api/screen", domain.ScreeningRequest{Input: "hi"}); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/screen", domain.ScreeningRequest{Input: "hi"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHeartbeat(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSummarizeTakesFirstMessageTime(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resp := post(t, ts.URL+"/api/summarize", domain.SummarizeRequest{
		SessionID: "s1",
		WordCount: 20,
		Messages: []domain.ChatMessage{
			{ID: "1", Role: domain.RoleUser, Content: "plan my 5k", Timestamp: first},
			{ID: "2", Role: domain.RoleAssistant, Content: "Run intervals.", Timestamp: first.Add(time.Second)},
		},
	})
	got := decodeBody[domain.SummarizeResponse](t, resp)
	if got.Summary == nil {
		t.Fatal("expected a summary")
	}
	if !got.Summary.Timestamp.Equal(first) {
		t.Fatalf("summary timestamp = %s, want %s", got.Summary.Timestamp, first)
	}
	if got.Summary.ClassName != "summary" {
		t.Fatalf("class = %q", got.Summary.ClassName)
	}
}
