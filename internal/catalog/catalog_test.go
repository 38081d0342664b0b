package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/satindergrewal/tinnitone/internal/therapy"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndLookup(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Asset{
		RunID:      "run-1",
		TinnitusHz: 8000,
		Severity:   therapy.Moderate,
		Seed:       1<<63 + 5,
		SampleRate: 44100,
		Seconds:    3600,
		Path:       "/out/tinnitone-8000Hz-moderate.mp3",
		Bytes:      57_600_000,
		CreatedAt:  created,
	}
	if err := s.Record(ctx, a); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Lookup(ctx, 8000, therapy.Moderate)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID == 0 {
		t.Error("expected an assigned id")
	}
	if got.RunID != a.RunID || got.Seed != a.Seed || got.Path != a.Path || got.Bytes != a.Bytes {
		t.Errorf("got %+v, want %+v", got, a)
	}
	if got.Severity != therapy.Moderate || got.SampleRate != 44100 || got.Seconds != 3600 {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created = %v, want %v", got.CreatedAt, created)
	}
}

func TestLookupMissing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Lookup(context.Background(), 4000, therapy.Mild); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := Asset{RunID: "a", TinnitusHz: 4000, Severity: therapy.Mild, Path: "old.mp3"}
	second := Asset{RunID: "b", TinnitusHz: 4000, Severity: therapy.Mild, Path: "new.mp3"}
	if err := s.Record(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, second); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(all))
	}
	if all[0].RunID != "b" || all[0].Path != "new.mp3" {
		t.Errorf("asset not replaced: %+v", all[0])
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("created_at should default to now")
	}
}

func TestListOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, hz := range []float64{13000, 1000, 5700} {
		for _, sev := range therapy.Severities() {
			if err := s.Record(ctx, Asset{RunID: "r", TinnitusHz: hz, Severity: sev}); err != nil {
				t.Fatal(err)
			}
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 12 {
		t.Fatalf("expected 12 assets, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].TinnitusHz < all[i-1].TinnitusHz {
			t.Fatalf("not ordered by frequency at %d: %v after %v", i, all[i].TinnitusHz, all[i-1].TinnitusHz)
		}
	}
	if all[0].TinnitusHz != 1000 || all[0].Severity != therapy.Normal {
		t.Errorf("first asset = %+v", all[0])
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Asset{RunID: "persist", TinnitusHz: 2000, Severity: therapy.Severe}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Lookup(ctx, 2000, therapy.Severe)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "persist" {
		t.Errorf("run id = %q", got.RunID)
	}
}
