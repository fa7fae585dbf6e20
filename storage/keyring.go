package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the service name entries are filed under when none
// is configured.
const DefaultKeyringService = "pkceclient"

var _ KeyValueStore = (*Keyring)(nil)

// Keyring stores each value as a separate entry in the operating system's
// credential store (macOS Keychain, Secret Service, Windows Credential
// Manager).
type Keyring struct {
	service string
}

func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service}
}

func (k *Keyring) Get(_ context.Context, key string) (string, bool, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, true, nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}
