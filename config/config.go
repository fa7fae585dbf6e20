// Package config loads the file configuration used by hosts of the client,
// like the CLI. Files are YAML or JSON, and may reference environment
// variables with defaults, e.g `${CLIENT_ID:-cli}`.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/lstoll/pkceclient"
	"github.com/lstoll/pkceclient/internal/expand"
	"github.com/lstoll/pkceclient/staticclients"
	"github.com/lstoll/pkceclient/storage"
	"sigs.k8s.io/yaml"
)

// StorageType selects where tokens are kept.
type StorageType string

const (
	StorageMemory  StorageType = "memory"
	StorageFile    StorageType = "file"
	StorageKeyring StorageType = "keyring"
	StorageRedis   StorageType = "redis"
	StorageSQLite  StorageType = "sqlite"
)

// File is the on-disk configuration.
type File struct {
	// Issuer is the authorization server. If set, endpoints that are not
	// configured are discovered from it.
	Issuer   string `json:"issuer"`
	ClientID string `json:"clientID"`
	// RedirectURL is the loopback URL the authorization server returns the
	// user agent to. A port of 0 means any free port.
	RedirectURL        string     `json:"redirectURL"`
	Endpoints          Endpoints  `json:"endpoints"`
	Resources          []Resource `json:"resources"`
	Nonce              string     `json:"nonce"`
	UserInfoAuthScheme string     `json:"userInfoAuthScheme"`
	Storage            Storage    `json:"storage"`
}

type Endpoints struct {
	Authorization string `json:"authorization"`
	Token         string `json:"token"`
	Revocation    string `json:"revocation"`
	EndSession    string `json:"endSession"`
	Introspection string `json:"introspection"`
	UserInfo      string `json:"userInfo"`
}

type Resource struct {
	ID       string   `json:"id"`
	Scopes   []string `json:"scopes"`
	UserInfo bool     `json:"userInfo"`
}

type Storage struct {
	// Type of the store, defaults to memory.
	Type StorageType `json:"type"`
	// Path of the token file, or the SQLite database.
	Path string `json:"path"`
	// KeyringService is the OS keyring service entries are filed under.
	KeyringService string `json:"keyringService"`
	Redis          *Redis `json:"redis"`
	// EncryptionKeyset is the path of a tink keyset used to encrypt values
	// before they are stored. It is created if it does not exist.
	EncryptionKeyset string `json:"encryptionKeyset"`
}

type Redis struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

// Load reads and parses the configuration at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML or JSON configuration, expanding environment variables
// in it. Unknown fields are an error.
func Parse(b []byte) (*File, error) {
	jb, err := yaml.YAMLToJSON(b)
	if err != nil {
		return nil, fmt.Errorf("converting to json: %w", err)
	}
	var f File
	if err := expand.Unmarshal(jb, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the file is usable. Endpoint requirements are left to the
// client, as they may be discovered.
func (f *File) Validate() error {
	var errs []error
	if f.ClientID == "" {
		errs = append(errs, errors.New("clientID is required"))
	}
	if f.Issuer == "" && (f.Endpoints.Authorization == "" || f.Endpoints.Token == "") {
		errs = append(errs, errors.New("issuer, or the authorization and token endpoints are required"))
	}
	if f.Issuer != "" {
		if u, err := url.Parse(f.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("issuer %q is not an absolute URL", f.Issuer))
		}
	}
	if f.RedirectURL != "" && !staticclients.IsLoopbackRedirectURI(f.RedirectURL) {
		errs = append(errs, fmt.Errorf("redirectURL %q must be a http loopback URL", f.RedirectURL))
	}
	if len(f.Resources) == 0 {
		errs = append(errs, errors.New("at least one resource is required"))
	}

	switch f.Storage.Type {
	case "", StorageMemory, StorageKeyring:
	case StorageFile, StorageSQLite:
		if f.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage type %s requires a path", f.Storage.Type))
		}
	case StorageRedis:
		if f.Storage.Redis == nil || f.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage type redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", f.Storage.Type))
	}

	return errors.Join(errs...)
}

// ClientConfig maps the file to the client's configuration.
func (f *File) ClientConfig() pkceclient.Config {
	cfg := pkceclient.Config{
		ClientID: f.ClientID,
		Endpoints: pkceclient.Endpoints{
			Authorization: f.Endpoints.Authorization,
			Token:         f.Endpoints.Token,
			Revocation:    f.Endpoints.Revocation,
			EndSession:    f.Endpoints.EndSession,
			Introspection: f.Endpoints.Introspection,
			UserInfo:      f.Endpoints.UserInfo,
		},
		Nonce:              f.Nonce,
		UserInfoAuthScheme: f.UserInfoAuthScheme,
	}
	for _, r := range f.Resources {
		cfg.Resources = append(cfg.Resources, pkceclient.Resource{
			ID:       r.ID,
			Scopes:   r.Scopes,
			UserInfo: r.UserInfo,
		})
	}
	return cfg
}

// OpenStore opens the configured store. The returned func releases it, and
// must be called when the store is no longer used.
func (f *File) OpenStore(ctx context.Context) (storage.KeyValueStore, func() error, error) {
	var (
		store   storage.KeyValueStore
		closeFn = func() error { return nil }
	)

	switch f.Storage.Type {
	case "", StorageMemory:
		store = storage.NewMemory()
	case StorageFile:
		s, err := storage.NewJSONFile(f.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening token file: %w", err)
		}
		store = s
	case StorageKeyring:
		svc := f.Storage.KeyringService
		if svc == "" {
			svc = storage.DefaultKeyringService
		}
		store = storage.NewKeyring(svc)
	case StorageRedis:
		r := f.Storage.Redis
		s, err := storage.NewRedis(ctx, r.Addr, r.Password, r.DB, r.KeyPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		store, closeFn = s, s.Close
	case StorageSQLite:
		s, err := storage.NewSQLite(f.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite: %w", err)
		}
		store, closeFn = s, s.Close
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", f.Storage.Type)
	}

	if f.Storage.EncryptionKeyset != "" {
		a, err := storage.LoadOrCreateAEAD(f.Storage.EncryptionKeyset)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		store = storage.NewEncrypted(store, a)
	}

	return store, closeFn, nil
}
