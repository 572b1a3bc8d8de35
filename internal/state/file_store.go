package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the bot state snapshot as a standalone JSON document at
// path and any other keys in a JSON map beside it (path + ".kv").
type FileStore struct {
	path   string
	kvPath string

	mu sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path, kvPath: path + ".kv"}, nil
}

func (f *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == BotStateKey {
		data, err := os.ReadFile(f.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", false, nil
			}
			return "", false, err
		}
		return string(data), true, nil
	}
	items, err := f.readKV()
	if err != nil {
		return "", false, err
	}
	val, ok := items[key]
	return val, ok, nil
}

func (f *FileStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == BotStateKey {
		return WriteFileAtomic(f.path, []byte(value))
	}
	items, err := f.readKV()
	if err != nil {
		return err
	}
	items[key] = value
	return f.writeKV(items)
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == BotStateKey {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	items, err := f.readKV()
	if err != nil {
		return err
	}
	delete(items, key)
	return f.writeKV(items)
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) readKV() (map[string]string, error) {
	items := make(map[string]string)
	data, err := os.ReadFile(f.kvPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return items, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return make(map[string]string), nil
	}
	return items, nil
}

func (f *FileStore) writeKV(items map[string]string) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return WriteFileAtomic(f.kvPath, data)
}

// WriteFileAtomic replaces path via a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
