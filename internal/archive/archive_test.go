package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/uistate"
)

type fixedCounter int

func (c fixedCounter) CountTokens(string) int { return int(c) }

type recorder struct {
	mu      sync.Mutex
	machine *uistate.Machine
	events  []uistate.Event
}

func newRecorder() *recorder {
	return &recorder{machine: uistate.NewMachine(uistate.Waiting)}
}

func (r *recorder) Transition(e uistate.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return r.machine.Transition(e)
}

func (r *recorder) Events() []uistate.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func TestShouldArchive(t *testing.T) {
	t.Parallel()

	long := []domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Repeat("squat ", 20000)}}

	tests := []struct {
		name     string
		messages []domain.ChatMessage
		counter  TokenCounter
		want     bool
	}{
		{name: "empty", messages: nil, counter: fixedCounter(1 << 20), want: false},
		{name: "small", messages: conversation("uaua"), counter: fixedCounter(10), want: false},
		{name: "too many messages", messages: conversation(strings.Repeat("ua", 50) + "u"), counter: fixedCounter(0), want: true},
		{name: "exactly max messages", messages: conversation(strings.Repeat("ua", 50)), counter: fixedCounter(0), want: false},
		{name: "token threshold", messages: conversation("ua"), counter: fixedCounter(DefaultMaxTokens + 1), want: true},
		{name: "token threshold inclusive", messages: conversation("ua"), counter: fixedCounter(DefaultMaxTokens), want: false},
		{name: "long message heuristic", messages: long, counter: HeuristicCounter{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldArchive(tt.messages, tt.counter); got != tt.want {
				t.Fatalf("ShouldArchive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTiktokenCounter(t *testing.T) {
	t.Parallel()

	counter, err := NewTiktokenCounter("")
	if err != nil {
		t.Fatalf("NewTiktokenCounter failed: %v", err)
	}
	if n := counter.CountTokens("hello world"); n != 2 {
		t.Fatalf("tokens = %d, want 2", n)
	}
	long := []domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Repeat("squat ", 20000)}}
	if !ShouldArchive(long, counter) {
		t.Fatal("a single very long message should trigger archival")
	}
}

func TestHeuristicCounter(t *testing.T) {
	t.Parallel()

	var c HeuristicCounter
	if c.CountTokens("   ") != 0 {
		t.Fatal("blank text should count zero")
	}
	if c.CountTokens("hi") != 1 {
		t.Fatal("short text should count one")
	}
	if c.CountTokens(strings.Repeat("a", 40)) != 10 {
		t.Fatal("expected len/4")
	}
}

type fakeArchiveBackend struct {
	summarizeStatus int
	nilSummary      bool
	pages           []int
	failOnPage      int

	mu             sync.Mutex
	summarizeCalls int
	archiveReqs    []domain.ArchiveRequest
	summarized     []domain.ChatMessage
}

func (b *fakeArchiveBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/summarize", func(w http.ResponseWriter, r *http.Request) {
		var req domain.SummarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode summarize: %v", err)
		}
		b.mu.Lock()
		b.summarizeCalls++
		b.summarized = req.Messages
		b.mu.Unlock()
		if b.summarizeStatus != 0 {
			w.WriteHeader(b.summarizeStatus)
			return
		}
		resp := domain.SummarizeResponse{}
		if !b.nilSummary {
			resp.Summary = &domain.ChatMessage{ID: "summary", Role: domain.RoleAssistant, Content: "You are training for a 5k."}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/archive", func(w http.ResponseWriter, r *http.Request) {
		var req domain.ArchiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode archive: %v", err)
		}
		b.mu.Lock()
		b.archiveReqs = append(b.archiveReqs, req)
		page := len(b.archiveReqs)
		b.mu.Unlock()
		if b.failOnPage == page {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := domain.ArchiveResponse{UpdatedCount: b.pages[page-1]}
		if page < len(b.pages) {
			resp.Continuation = "c" + string(rune('0'+page))
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (b *fakeArchiveBackend) snapshot() (int, []domain.ArchiveRequest, []domain.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summarizeCalls, slices.Clone(b.archiveReqs), slices.Clone(b.summarized)
}

func newTestArchiver(srvURL string) *Archiver {
	client := apiclient.New(apiclient.Options{Timeout: 2 * time.Second, RetryMax: 0})
	return NewArchiver(client, fixedCounter(0), Config{
		ArchiveURL:    srvURL + "/archive",
		SummarizeURL:  srvURL + "/summarize",
		ModelProvider: "openai",
		WordCount:     150,
		PageLimit:     2,
	}, nil)
}

func TestArchiveEmptyMakesNoCalls(t *testing.T) {
	t.Parallel()

	backend := &fakeArchiveBackend{}
	srv := backend.server(t)
	a := newTestArchiver(srv.URL)
	rec := newRecorder()

	got, err := a.Archive(context.Background(), "s1", nil, rec)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v / %v", got, err)
	}
	if calls, reqs, _ := backend.snapshot(); calls != 0 || len(reqs) != 0 {
		t.Fatal("no backend calls expected")
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("events = %v", rec.Events())
	}
}

func TestArchiveWithoutSplitIsNoop(t *testing.T) {
	t.Parallel()

	backend := &fakeArchiveBackend{}
	srv := backend.server(t)
	a := newTestArchiver(srv.URL)
	rec := newRecorder()
	msgs := conversation("ua")

	got, err := a.Archive(context.Background(), "s1", msgs, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls, _, _ := backend.snapshot(); len(got) != 2 || len(rec.Events()) != 0 || calls != 0 {
		t.Fatalf("expected untouched history, got %d messages, events %v", len(got), rec.Events())
	}
}

func TestArchiveSuccess(t *testing.T) {
	t.Parallel()

	backend := &fakeArchiveBackend{pages: []int{2, 1}}
	srv := backend.server(t)
	a := newTestArchiver(srv.URL)
	rec := newRecorder()
	msgs := conversation("uauaua")
	original := slices.Clone(msgs)

	got, err := a.Archive(context.Background(), "s1", msgs, rec)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if len(got) != 3 || got[0].ID != "summary" || got[1].ID != msgs[4].ID {
		t.Fatalf("result = %+v", got)
	}
	if !slices.EqualFunc(msgs, original, func(a, b domain.ChatMessage) bool { return a.ID == b.ID }) {
		t.Fatal("input slice was modified")
	}
	_, reqs, summarized := backend.snapshot()
	if len(summarized) != 4 {
		t.Fatalf("summarized %d messages, want 4", len(summarized))
	}
	if len(reqs) != 2 {
		t.Fatalf("archive pages = %d, want 2", len(reqs))
	}
	first, second := reqs[0], reqs[1]
	if first.Continuation != "" || second.Continuation != "c1" {
		t.Fatalf("continuations = %q, %q", first.Continuation, second.Continuation)
	}
	if !first.CreatedBefore.Equal(msgs[4].Timestamp) || !first.CreatedAfter.Equal(msgs[0].Timestamp.Add(-time.Millisecond)) {
		t.Fatalf("window = %s .. %s", first.CreatedAfter, first.CreatedBefore)
	}
	if first.Limit != 2 || first.SessionID != "s1" {
		t.Fatalf("first request = %+v", first)
	}
	want := []uistate.Event{uistate.StartedArchiving, uistate.FinishedArchiving}
	if events := rec.Events(); !slices.Equal(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if rec.machine.State() != uistate.Waiting {
		t.Fatalf("state = %s", rec.machine.State())
	}
}

func TestArchiveSummarizeFailureKeepsHistory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend *fakeArchiveBackend
	}{
		{name: "status error", backend: &fakeArchiveBackend{summarizeStatus: http.StatusBadRequest}},
		{name: "nil summary", backend: &fakeArchiveBackend{nilSummary: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := tt.backend.server(t)
			a := newTestArchiver(srv.URL)
			rec := newRecorder()
			msgs := conversation("uauaua")

			got, err := a.Archive(context.Background(), "s1", msgs, rec)
			if !errors.Is(err, ErrSummarize) {
				t.Fatalf("expected ErrSummarize, got %v", err)
			}
			if len(got) != len(msgs) || got[0].ID != msgs[0].ID {
				t.Fatalf("history changed: %+v", got)
			}
			want := []uistate.Event{uistate.StartedArchiving, uistate.Errored}
			if events := rec.Events(); !slices.Equal(events, want) {
				t.Fatalf("events = %v, want %v", events, want)
			}
			if _, reqs, _ := tt.backend.snapshot(); len(reqs) != 0 {
				t.Fatal("archive must not run after a failed summary")
			}
		})
	}
}

func TestArchiveCommitFailureKeepsHistory(t *testing.T) {
	t.Parallel()

	backend := &fakeArchiveBackend{pages: []int{2, 2, 2}, failOnPage: 2}
	srv := backend.server(t)
	a := newTestArchiver(srv.URL)
	rec := newRecorder()
	msgs := conversation("uauauaua")

	got, err := a.Archive(context.Background(), "s1", msgs, rec)
	if !errors.Is(err, ErrCommit) {
		t.Fatalf("expected ErrCommit, got %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("history changed: %d messages", len(got))
	}
	if _, reqs, _ := backend.snapshot(); len(reqs) != 2 {
		t.Fatalf("archive pages = %d, want 2", len(reqs))
	}
	if rec.machine.State() != uistate.Error {
		t.Fatalf("state = %s", rec.machine.State())
	}
}

func TestArchiveRejectedWhileBusy(t *testing.T) {
	t.Parallel()

	backend := &fakeArchiveBackend{pages: []int{1}}
	srv := backend.server(t)
	a := newTestArchiver(srv.URL)
	busy := uistate.NewMachine(uistate.Chatting)

	_, err := a.Archive(context.Background(), "s1", conversation("uaua"), busy)
	if !errors.Is(err, uistate.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if calls, _, _ := backend.snapshot(); calls != 0 {
		t.Fatal("summarize must not run")
	}
}
