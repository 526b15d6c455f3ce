package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/database"
	_ "github.com/wukong-iot/wkpf-gateway/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// ─── Create ────────────────────────────────────────────────────────

func TestCreateFillsDefaults(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	e := &Entry{Action: ActionSendMode, Source: SourceAPI, Node: 4}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if e.Outcome != OutcomeOK {
		t.Errorf("Outcome = %q, want ok", e.Outcome)
	}
}

func TestCreateRequiresActionAndSource(t *testing.T) {
	repo := setupTestRepo(t)
	tests := []struct {
		name  string
		entry Entry
	}{
		{"no action", Entry{Source: SourceAPI}},
		{"no source", Entry{Action: ActionSetProperty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(context.Background(), &tt.entry); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Create() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestCreateRoundTripsFields(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	e := &Entry{
		Action:    ActionSetProperty,
		Node:      7,
		Source:    SourceMQTT,
		Subject:   "bridge-1",
		Details:   map[string]any{"object": float64(1), "property": float64(0)},
		CreatedAt: at,
	}
	e.SetResult(errors.New("device rejected write"))
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(res.Entries))
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.Action != ActionSetProperty || got.Node != 7 ||
		got.Source != SourceMQTT || got.Subject != "bridge-1" {
		t.Errorf("entry = %+v", got)
	}
	if got.Outcome != OutcomeError || got.Error != "device rejected write" {
		t.Errorf("outcome = %q %q", got.Outcome, got.Error)
	}
	if got.Details["object"] != float64(1) {
		t.Errorf("details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, at)
	}
}

func TestSetResult(t *testing.T) {
	var e Entry
	e.SetResult(errors.New("boom"))
	if e.Outcome != OutcomeError || e.Error != "boom" {
		t.Errorf("after error: %+v", e)
	}
	e.SetResult(nil)
	if e.Outcome != OutcomeOK || e.Error != "" {
		t.Errorf("after success: %+v", e)
	}
}

// ─── List ──────────────────────────────────────────────────────────

func TestListFiltersAndOrders(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []Entry{
		{Action: ActionSetProperty, Node: 1, Source: SourceAPI},
		{Action: ActionSetProperty, Node: 2, Source: SourceMQTT},
		{Action: ActionSendMode, Node: 1, Source: SourceAPI},
		{Action: ActionController, Source: SourceAPI},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
		total   int
	}{
		{"all newest first", Filter{}, []string{seed[3].ID, seed[2].ID, seed[1].ID, seed[0].ID}, 4},
		{"by action", Filter{Action: ActionSetProperty}, []string{seed[1].ID, seed[0].ID}, 2},
		{"by node", Filter{Node: 1}, []string{seed[2].ID, seed[0].ID}, 2},
		{"by source", Filter{Source: SourceMQTT}, []string{seed[1].ID}, 1},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{seed[2].ID, seed[1].ID}, 4},
		{"no match", Filter{Action: ActionSetLocation}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Entries) != len(tt.wantIDs) {
				t.Fatalf("entries = %d, want %d", len(res.Entries), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Entries[i].ID != id {
					t.Errorf("entry %d = %s, want %s", i, res.Entries[i].ID, id)
				}
			}
		})
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := setupTestRepo(t)

	tests := []struct {
		name   string
		filter Filter
		limit  int
		offset int
	}{
		{"default", Filter{}, defaultLimit, 0},
		{"too large", Filter{Limit: 1000}, maxLimit, 0},
		{"negative offset", Filter{Limit: 10, Offset: -3}, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if res.Limit != tt.limit || res.Offset != tt.offset {
				t.Errorf("limit/offset = %d/%d, want %d/%d", res.Limit, res.Offset, tt.limit, tt.offset)
			}
			if res.Entries == nil {
				t.Error("Entries should be an empty slice, not nil")
			}
		})
	}
}
