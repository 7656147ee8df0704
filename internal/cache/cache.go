// Package cache persists the last quota snapshot so one-shot CLI invocations
// between polls answer without touching the server.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gravbar/internal/quota"
)

const defaultTTL = 60 * time.Second

type Entry struct {
	Quotas       []quota.ModelQuota `json:"quotas"`
	Account      quota.Account      `json:"account"`
	CloudSourced bool               `json:"cloud_sourced"`
	FetchedAt    time.Time          `json:"fetched_at"`
}

func cacheDir() (string, error) {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "gravbar"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "gravbar"), nil
}

func cachePath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "quota.json"), nil
}

func Read() (*Entry, error) {
	path, err := cachePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (e *Entry) IsValid() bool {
	return time.Since(e.FetchedAt) < defaultTTL
}

func Write(quotas []quota.ModelQuota, account quota.Account, cloudSourced bool) error {
	dir, err := cacheDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	entry := Entry{
		Quotas:       quotas,
		Account:      account,
		CloudSourced: cloudSourced,
		FetchedAt:    time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path, err := cachePath()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmp, path)
}
