package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

var _ KeyValueStore = (*Encrypted)(nil)

// Encrypted wraps another store, sealing every value with an AEAD before it
// is written. The key is bound as associated data, so a value copied to a
// different key will not decrypt.
type Encrypted struct {
	inner KeyValueStore
	aead  tink.AEAD
}

func NewEncrypted(inner KeyValueStore, a tink.AEAD) *Encrypted {
	return &Encrypted{inner: inner, aead: a}
}

func (e *Encrypted) Get(ctx context.Context, key string) (string, bool, error) {
	v, found, err := e.inner.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	ct, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", false, fmt.Errorf("decoding sealed value for %s: %w", key, err)
	}
	pt, err := e.aead.Decrypt(ct, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("opening sealed value for %s: %w", key, err)
	}
	return string(pt), true, nil
}

func (e *Encrypted) Set(ctx context.Context, key, value string) error {
	ct, err := e.aead.Encrypt([]byte(value), []byte(key))
	if err != nil {
		return fmt.Errorf("sealing value for %s: %w", key, err)
	}
	return e.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(ct))
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

// NewAEAD returns an AES-256-GCM primitive from a freshly generated keyset.
func NewAEAD() (tink.AEAD, *keyset.Handle, error) {
	h, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, nil, fmt.Errorf("creating keyset: %w", err)
	}
	a, err := aead.New(h)
	if err != nil {
		return nil, nil, fmt.Errorf("creating aead: %w", err)
	}
	return a, h, nil
}

// LoadOrCreateAEAD reads a cleartext keyset from path, generating and writing
// a new one if the file does not exist. The file is as sensitive as the
// tokens it protects, it is written 0600.
func LoadOrCreateAEAD(path string) (tink.AEAD, error) {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		h, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
		if err != nil {
			return nil, fmt.Errorf("reading keyset %s: %w", path, err)
		}
		a, err := aead.New(h)
		if err != nil {
			return nil, fmt.Errorf("creating aead from %s: %w", path, err)
		}
		return a, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("opening keyset %s: %w", path, err)
	}

	a, h, err := NewAEAD()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating keyset directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating keyset %s: %w", path, err)
	}
	if err := insecurecleartextkeyset.Write(h, keyset.NewJSONWriter(out)); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("writing keyset %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("closing keyset %s: %w", path, err)
	}
	return a, nil
}
