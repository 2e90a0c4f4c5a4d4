package testsupport

import (
	"context"
	"testing"

	"notescribe/internal/config"
	"notescribe/internal/history"
	"notescribe/internal/notes"
)

// MustOpenHistory opens a history.Store for tests and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SaveEntry stores a small synthetic analysis and returns it.
func SaveEntry(t testing.TB, store *history.Store, id, source string, events ...notes.Event) history.Entry {
	t.Helper()

	if events == nil {
		events = []notes.Event{}
	}
	entry := history.Entry{
		ID:         id,
		Source:     source,
		SampleRate: SampleRate,
		Duration:   1,
		Notes:      events,
	}
	if err := store.Save(context.Background(), entry); err != nil {
		t.Fatalf("store.Save: %v", err)
	}
	return entry
}
