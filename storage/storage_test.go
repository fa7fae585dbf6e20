package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/zalando/go-keyring"
)

func TestStores(t *testing.T) {
	for _, tc := range []struct {
		Name  string
		Store func(t *testing.T) KeyValueStore
	}{
		{
			Name: "Memory",
			Store: func(t *testing.T) KeyValueStore {
				return NewMemory()
			},
		},
		{
			Name: "JSON file",
			Store: func(t *testing.T) KeyValueStore {
				s, err := NewJSONFile(filepath.Join(t.TempDir(), "tokens.json"))
				if err != nil {
					t.Fatal(err)
				}
				return s
			},
		},
		{
			Name: "Keyring",
			Store: func(t *testing.T) KeyValueStore {
				keyring.MockInit()
				return NewKeyring("pkceclient-test")
			},
		},
		{
			Name: "Redis",
			Store: func(t *testing.T) KeyValueStore {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = client.Close() })
				return NewRedisWithClient(client, "test:")
			},
		},
		{
			Name: "SQLite",
			Store: func(t *testing.T) KeyValueStore {
				s, err := NewSQLite(filepath.Join(t.TempDir(), "tokens.db"))
				if err != nil {
					t.Fatal(err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			Name: "Session",
			Store: func(t *testing.T) KeyValueStore {
				return NewSession(sessions.NewSession(nil, "test"))
			},
		},
		{
			Name: "Encrypted",
			Store: func(t *testing.T) KeyValueStore {
				a, _, err := NewAEAD()
				if err != nil {
					t.Fatal(err)
				}
				return NewEncrypted(NewMemory(), a)
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			testStore(t, tc.Store(t))
		})
	}
}

func testStore(t *testing.T, s KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "client.RefreshToken"); err != nil || found {
		t.Fatalf("want missing key, got found=%t err=%v", found, err)
	}

	if err := s.Set(ctx, "client.RefreshToken", "rt-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "client.RefreshToken", "rt-2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "client.api.AccessToken", "at"); err != nil {
		t.Fatal(err)
	}

	v, found, err := s.Get(ctx, "client.RefreshToken")
	if err != nil {
		t.Fatal(err)
	}
	if !found || v != "rt-2" {
		t.Errorf("want rt-2, got %q (found %t)", v, found)
	}

	if err := s.Delete(ctx, "client.RefreshToken"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "client.RefreshToken"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
	if _, found, _ := s.Get(ctx, "client.RefreshToken"); found {
		t.Error("key should be gone after delete")
	}

	if v, _, _ := s.Get(ctx, "client.api.AccessToken"); v != "at" {
		t.Errorf("unrelated key changed, got %q", v)
	}
}

func TestEncryptedBindsKey(t *testing.T) {
	ctx := context.Background()
	a, _, err := NewAEAD()
	if err != nil {
		t.Fatal(err)
	}
	inner := NewMemory()
	s := NewEncrypted(inner, a)

	if err := s.Set(ctx, "a", "secret"); err != nil {
		t.Fatal(err)
	}

	raw, _, _ := inner.Get(ctx, "a")
	if raw == "secret" {
		t.Fatal("value stored in the clear")
	}

	// moving the sealed value to another key must not decrypt
	if err := inner.Set(ctx, "b", raw); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get(ctx, "b"); err == nil {
		t.Error("want error opening value under a different key")
	}
}

func TestLoadOrCreateAEAD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")

	a1, err := LoadOrCreateAEAD(path)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := a1.Encrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatal(err)
	}

	a2, err := LoadOrCreateAEAD(path)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := a2.Decrypt(ct, nil)
	if err != nil {
		t.Fatalf("reloaded keyset should open existing ciphertext: %v", err)
	}
	if string(pt) != "hello" {
		t.Errorf("want hello, got %s", pt)
	}
}
