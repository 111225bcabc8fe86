// Package testutil provides shared test helpers for stores, services and
// on-disk fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/content"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/noteservice"
	"github.com/starford/quire/internal/store"
)

// BaseURL is the display base used by test services.
const BaseURL = "http://127.0.0.1:7777"

// TestDB creates a temporary database with the current schema.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "quire-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Env is a fully wired service over temporary directories.
type Env struct {
	DB        *store.DB
	DocRoot   string
	AssetRoot string
	Assets    *assets.Store
	Session   *content.Session
	Service   *noteservice.Service
}

// TestService wires a service over a temporary database, document root and
// asset store. The clock is fixed so timestamps are predictable.
func TestService(t *testing.T, opts ...noteservice.Option) *Env {
	t.Helper()
	dir := t.TempDir()
	env := &Env{
		DB:        TestDB(t),
		DocRoot:   filepath.Join(dir, "rte"),
		AssetRoot: filepath.Join(dir, "assets"),
		Session:   content.NewSession(BaseURL),
	}
	env.Assets = assets.NewStore(env.AssetRoot)
	base := []noteservice.Option{
		noteservice.WithAssets(env.Assets),
		noteservice.WithSession(env.Session),
		noteservice.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	}
	env.Service = noteservice.New(env.DB, docstore.NewWriter(env.DocRoot, 1), append(base, opts...)...)
	return env
}

// WriteFile writes data to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel string, data []byte) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
