package history_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"notescribe/internal/history"
	"notescribe/internal/notes"
	"notescribe/internal/testsupport"
	"notescribe/internal/transcribe"
)

func TestSaveAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	entry := history.Entry{
		ID:         "a1",
		Source:     "scale.wav",
		SampleRate: 22050,
		Duration:   1.5,
		Notes: []notes.Event{
			{Note: "A4", MIDI: 69, Start: 0, End: 0.5, Duration: 0.5, Volume: 80},
			{Note: "C#5", MIDI: 73, Start: 0.5, End: 1.0, Duration: 0.5, Volume: 60},
		},
		Warnings: []string{"secondary estimator timed out"},
		Elapsed:  250 * time.Millisecond,
	}
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry")
	}
	if got.Source != "scale.wav" || got.SampleRate != 22050 || got.Duration != 1.5 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.NoteCount != 2 || len(got.Notes) != 2 {
		t.Fatalf("unexpected notes: %+v", got.Notes)
	}
	if got.Notes[1].Note != "C#5" || got.Notes[1].MIDI != 73 || got.Notes[1].Volume != 60 {
		t.Fatalf("unexpected second note: %+v", got.Notes[1])
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "secondary estimator timed out" {
		t.Fatalf("unexpected warnings: %v", got.Warnings)
	}
	if got.Elapsed != 250*time.Millisecond {
		t.Fatalf("unexpected elapsed: got %v want 250ms", got.Elapsed)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil entry, got %+v", got)
	}
}

func TestListNewestFirstWithoutNotes(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		entry := history.Entry{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Notes:     []notes.Event{{Note: "E4", Start: 0, End: 0.2, Duration: 0.2, Volume: 50}},
		}
		if err := store.Save(ctx, entry); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("unexpected list length: got %d want 2", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "mid" {
		t.Fatalf("unexpected order: %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].Notes != nil || list[0].NoteCount != 1 {
		t.Fatalf("list should carry counts only: %+v", list[0])
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unexpected list length: got %d want 3", len(all))
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3", "e4"} {
		if err := store.Save(ctx, history.Entry{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	removed, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("unexpected removed count: got %d want 2", removed)
	}
	for _, id := range []string{"e1", "e2"} {
		if got, _ := store.Get(ctx, id); got != nil {
			t.Fatalf("expected %s pruned", id)
		}
	}
	if got, _ := store.Get(ctx, "e4"); got == nil {
		t.Fatal("expected newest entry kept")
	}

	if removed, err := store.Prune(ctx, 0); err != nil || removed != 0 {
		t.Fatalf("Prune(0) should be a no-op: removed=%d err=%v", removed, err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.SaveEntry(t, store, "x", "x.wav")
	testsupport.SaveEntry(t, store, "y", "y.wav")

	ok, err := store.Delete(ctx, "x")
	if err != nil || !ok {
		t.Fatalf("Delete(x): ok=%v err=%v", ok, err)
	}
	ok, err = store.Delete(ctx, "x")
	if err != nil || ok {
		t.Fatalf("second Delete(x): ok=%v err=%v", ok, err)
	}

	n, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("unexpected cleared count: got %d want 1", n)
	}
}

func TestSaveRequiresID(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	if err := store.Save(context.Background(), history.Entry{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	testsupport.SaveEntry(t, store, "persist", "p.wav")
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened := testsupport.MustOpenHistory(t, cfg)
	got, err := reopened.Get(context.Background(), "persist")
	if err != nil || got == nil {
		t.Fatalf("expected persisted entry: %+v err=%v", got, err)
	}
	if reopened.Path() != cfg.HistoryPath() {
		t.Fatalf("unexpected path: %q", reopened.Path())
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := history.Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", cfg.HistoryPath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	db.Close()

	if _, err := history.Open(cfg.HistoryPath()); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("unexpected error: got %v want ErrSchemaMismatch", err)
	}
}

func TestFromResult(t *testing.T) {
	res := transcribe.Result{
		RequestID: "req-7",
		Notes:     []notes.Event{{Note: "G4", MIDI: 67, Start: 0, End: 0.3, Duration: 0.3, Volume: 70}},
		Warnings:  []transcribe.Warning{{Stage: transcribe.StagePitch, Message: "estimator failed"}},
		Duration:  0.4,
		Elapsed:   time.Second,
	}
	entry := history.FromResult(res, "tune.wav", 22050)
	if entry.ID != "req-7" || entry.Source != "tune.wav" || entry.SampleRate != 22050 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.NoteCount != 1 || entry.Duration != 0.4 || entry.Elapsed != time.Second {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(entry.Warnings) != 1 || entry.Warnings[0] != "estimator failed" {
		t.Fatalf("unexpected warnings: %v", entry.Warnings)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
}
