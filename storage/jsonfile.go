package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/lstoll/pkceclient/internal/jsonfile"
)

var _ KeyValueStore = (*JSONFile)(nil)

// JSONFile keeps values in a JSON document on disk, readable only by the
// current user. Several processes may share the same file.
type JSONFile struct {
	db *jsonfile.JSONFile[jsonFileSchema]
}

func NewJSONFile(path string) (*JSONFile, error) {
	db, err := jsonfile.Load[jsonFileSchema](path)
	if errors.Is(err, os.ErrNotExist) {
		db, err = jsonfile.New[jsonFileSchema](path)
	}
	if err != nil {
		return nil, fmt.Errorf("load/create db: %w", err)
	}
	return &JSONFile{db: db}, nil
}

func (j *JSONFile) Get(_ context.Context, key string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	if err := j.db.Read(func(data *jsonFileSchema) {
		val, found = data.Values[key]
	}); err != nil {
		return "", false, err
	}
	return val, found, nil
}

func (j *JSONFile) Set(_ context.Context, key, value string) error {
	return j.db.Write(func(data *jsonFileSchema) error {
		if data.Values == nil {
			data.Values = make(map[string]string)
		}
		data.Values[key] = value
		return nil
	})
}

func (j *JSONFile) Delete(_ context.Context, key string) error {
	return j.db.Write(func(data *jsonFileSchema) error {
		delete(data.Values, key)
		return nil
	})
}

type jsonFileSchema struct {
	Values map[string]string `json:"values"`
}
