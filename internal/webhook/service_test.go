package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sydlexius/pushhook/internal/database"
	"github.com/sydlexius/pushhook/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupJSON(t *testing.T) (*Service, *JSONStore) {
	t.Helper()
	store := NewJSONStore(filepath.Join(t.TempDir(), "webhooks.json"))
	svc := NewService(store, testLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func setupSQLite(t *testing.T) (*Service, *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(ctx, db, testLogger()); err != nil {
		t.Fatal(err)
	}
	store := NewSQLiteStore(db)
	svc := NewService(store, testLogger())
	if err := svc.Load(ctx); err != nil {
		t.Fatal(err)
	}
	return svc, store
}

// failingStore loads fine and refuses every save.
type failingStore struct{ hooks []Webhook }

func (f *failingStore) Load(_ context.Context) ([]Webhook, error) { return f.hooks, nil }
func (f *failingStore) Save(_ context.Context, _ []Webhook) error {
	return errors.New("disk full")
}

func TestCreateAndLookup(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	w := &Webhook{Name: "deploys", Providers: []provider.Name{"pushover", "Telegram"}, Priority: 1, Message: "deployed"}
	if err := svc.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	if len(w.ID) != 8 {
		t.Errorf("ID = %q, want 8 characters", w.ID)
	}
	if len(w.Token) != 32 {
		t.Errorf("Token length = %d, want 32", len(w.Token))
	}
	if w.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := svc.Lookup(ctx, w.ID, w.Token)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Name != "deploys" || got.Priority != 1 || got.Message != "deployed" {
		t.Errorf("got %+v", got)
	}
	if len(got.Providers) != 2 || got.Providers[1] != provider.NameTelegram {
		t.Errorf("Providers = %v, want [pushover telegram]", got.Providers)
	}
	if got.TriggerPath() != "/hook/"+w.ID+"/"+w.Token {
		t.Errorf("TriggerPath = %q", got.TriggerPath())
	}
}

func TestLookup_Mismatch(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	w := &Webhook{Name: "a"}
	if err := svc.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	cases := map[string][2]string{
		"wrong token":   {w.ID, strings.Repeat("f", 32)},
		"empty token":   {w.ID, ""},
		"unknown id":    {"deadbeef", w.Token},
		"token prefix":  {w.ID, w.Token[:16]},
		"swapped parts": {w.Token, w.ID},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Lookup(ctx, c[0], c[1]); !errors.Is(err, ErrNotFound) {
				t.Errorf("Lookup error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestCreate_DefaultsAndNormalization(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	w := &Webhook{Name: "  plain  ", Providers: []provider.Name{"PUSHOVER", "pushover", " "}, Retry: 60, Expire: 600}
	if err := svc.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	if w.Name != "plain" {
		t.Errorf("Name = %q, want plain", w.Name)
	}
	if len(w.Providers) != 1 || w.Providers[0] != provider.NamePushover {
		t.Errorf("Providers = %v, want [pushover]", w.Providers)
	}
	if w.Retry != 0 || w.Expire != 0 {
		t.Errorf("retry/expire = %d/%d, want cleared below priority 2", w.Retry, w.Expire)
	}

	empty := &Webhook{}
	if err := svc.Create(ctx, empty); err != nil {
		t.Fatal(err)
	}
	if len(empty.Providers) != 1 || empty.Providers[0] != provider.NamePushover {
		t.Errorf("Providers = %v, want default [pushover]", empty.Providers)
	}
}

func TestCreate_IgnoresCallerIdentity(t *testing.T) {
	svc, _ := setupJSON(t)
	w := &Webhook{ID: "chosen", Token: "mine"}
	if err := svc.Create(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if w.ID == "chosen" || w.Token == "mine" {
		t.Errorf("caller-supplied id/token kept: %s/%s", w.ID, w.Token)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		hook  Webhook
		field string
	}{
		{"priority too high", Webhook{Priority: 3}, "priority"},
		{"priority too low", Webhook{Priority: -3}, "priority"},
		{"bad provider", Webhook{Providers: []provider.Name{"no spaces!"}}, "providers"},
		{"emergency without retry", Webhook{Priority: 2, Expire: 600}, "retry"},
		{"emergency without expire", Webhook{Priority: 2, Retry: 60}, "expire"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.hook
			err := svc.Create(ctx, &w)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if vErr.Fields[0] != tt.field {
				t.Errorf("Fields = %v, want %s first", vErr.Fields, tt.field)
			}
		})
	}

	list, _ := svc.List(ctx)
	if len(list) != 0 {
		t.Errorf("got %d webhooks after rejected creates, want 0", len(list))
	}
}

func TestCreate_UnknownProviderAccepted(t *testing.T) {
	svc, _ := setupJSON(t)
	w := &Webhook{Providers: []provider.Name{"pushover", "sms"}}
	if err := svc.Create(context.Background(), w); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !w.HasProvider("sms") {
		t.Error("expected sms to be kept for dispatch to report")
	}
}

func TestCreate_IDCollision(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := &Webhook{}
	if err := svc.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Webhook{}
	if err := svc.Create(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.ID != "bbbbbbbb" {
		t.Errorf("second ID = %q, want bbbbbbbb", second.ID)
	}
}

func TestCreate_SaveFailureLeavesRegistryUnchanged(t *testing.T) {
	svc := NewService(&failingStore{}, testLogger())
	ctx := context.Background()
	if err := svc.Load(ctx); err != nil {
		t.Fatal(err)
	}

	w := &Webhook{Name: "x"}
	if err := svc.Create(ctx, w); err == nil {
		t.Fatal("expected save error")
	}
	if _, err := svc.Lookup(ctx, w.ID, w.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after failed create = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	for _, name := range []string{"bravo", "alpha", "charlie"} {
		if err := svc.Create(ctx, &Webhook{Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d webhooks, want 3", len(list))
	}
	// Creation order, not name order.
	if list[0].Name != "bravo" || list[2].Name != "charlie" {
		t.Errorf("order = %s,%s,%s", list[0].Name, list[1].Name, list[2].Name)
	}

	list[0].Providers[0] = "mutated"
	again, _ := svc.List(ctx)
	if again[0].Providers[0] != provider.NamePushover {
		t.Error("List must return copies")
	}
}

func TestDelete(t *testing.T) {
	svc, _ := setupJSON(t)
	ctx := context.Background()

	w := &Webhook{Name: "deleteme"}
	if err := svc.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Lookup(ctx, w.ID, w.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after delete = %v, want ErrNotFound", err)
	}
	if _, err := svc.Get(ctx, w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	svc, _ := setupJSON(t)
	if err := svc.Delete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete error = %v, want ErrNotFound", err)
	}
}

func TestJSONStore_Persistence(t *testing.T) {
	svc, store := setupJSON(t)
	ctx := context.Background()

	w := &Webhook{Name: "persisted", Priority: 2, Retry: 60, Expire: 3600, Providers: []provider.Name{"telegram"}}
	if err := svc.Create(ctx, w); err != nil {
		t.Fatal(err)
	}

	reopened := NewService(NewJSONStore(store.Path()), testLogger())
	if err := reopened.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Lookup(ctx, w.ID, w.Token)
	if err != nil {
		t.Fatalf("Lookup after reopen: %v", err)
	}
	if got.Retry != 60 || got.Expire != 3600 || got.Providers[0] != provider.NameTelegram {
		t.Errorf("got %+v", got)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}
}

func TestJSONStore_LegacyRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")
	legacy := `{"webhooks":[{"id":"abcd1234","token":"0123456789abcdef0123456789abcdef","name":"old","priority":0,"message":"hi"}]}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	svc := NewService(NewJSONStore(path), testLogger())
	if err := svc.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Lookup(context.Background(), "abcd1234", "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got.Providers) != 1 || got.Providers[0] != provider.NamePushover {
		t.Errorf("Providers = %v, want [pushover] for records without providers", got.Providers)
	}
}

func TestJSONStore_CorruptFileFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	svc := NewService(NewJSONStore(path), testLogger())
	if err := svc.Load(context.Background()); err == nil {
		t.Error("expected error for corrupt store")
	}
}

func TestReload_PicksUpExternalRemoval(t *testing.T) {
	svc, store := setupJSON(t)
	ctx := context.Background()

	w := &Webhook{Name: "external"}
	if err := svc.Create(ctx, w); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Lookup(ctx, w.ID, w.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after reload = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	svc, store := setupSQLite(t)
	ctx := context.Background()

	first := &Webhook{Name: "one", Providers: []provider.Name{"pushover", "telegram"}}
	second := &Webhook{Name: "two", Priority: 2, Retry: 30, Expire: 600}
	for _, w := range []*Webhook{first, second} {
		if err := svc.Create(ctx, w); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Delete(ctx, first.ID); err != nil {
		t.Fatal(err)
	}

	reopened := NewService(store, testLogger())
	if err := reopened.Load(ctx); err != nil {
		t.Fatal(err)
	}
	list, _ := reopened.List(ctx)
	if len(list) != 1 {
		t.Fatalf("got %d webhooks, want 1", len(list))
	}
	got := list[0]
	if got.ID != second.ID || got.Token != second.Token || got.Retry != 30 || got.Expire != 600 {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to survive the round trip")
	}
}
