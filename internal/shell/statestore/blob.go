// Package statestore keeps infra state files in an Azure Blob Storage
// container, addressed with a shared access signature.
package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrStateNotFound is returned by RestoreState when no blob exists yet,
// which is the normal first-deploy case.
var ErrStateNotFound = errors.New("state blob not found")

// apiVersion is the Blob service REST version requested.
const apiVersion = "2020-10-02"

// Config holds blob store configuration.
type Config struct {
	// AccountURL is the blob endpoint, e.g. "https://acct.blob.core.windows.net".
	AccountURL string
	Container  string
	// SASToken is the query string granting read/write on the container,
	// with or without a leading '?'.
	SASToken string
	Timeout  time.Duration
}

// BlobStore reads and writes state files as block blobs.
type BlobStore struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a BlobStore.
func New(cfg Config, logger *slog.Logger) *BlobStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Container == "" {
		cfg.Container = "tfstate"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.AccountURL = strings.TrimRight(cfg.AccountURL, "/")
	cfg.SASToken = strings.TrimPrefix(cfg.SASToken, "?")
	return &BlobStore{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "statestore"),
	}
}

func (s *BlobStore) blobURL(key string) string {
	u := s.config.AccountURL + "/" + s.config.Container + "/" + key
	if s.config.SASToken != "" {
		u += "?" + s.config.SASToken
	}
	return u
}

// RestoreState downloads blob key into dir/key.
func (s *BlobStore) RestoreState(ctx context.Context, key, dir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blobURL(key), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-ms-version", apiVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("download %s: %w", key, ErrStateNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download %s: unexpected status %d: %s", key, resp.StatusCode, string(body))
	}

	f, err := os.OpenFile(filepath.Join(dir, key), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write local state: %w", err)
	}

	s.logger.Info("restored state", "key", key, "bytes", n)
	return nil
}

// PersistState uploads dir/key as blob key, replacing any previous version.
func (s *BlobStore) PersistState(ctx context.Context, key, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		return fmt.Errorf("read local state: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.blobURL(key), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-ms-version", apiVersion)
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload %s: unexpected status %d: %s", key, resp.StatusCode, string(body))
	}

	s.logger.Info("persisted state", "key", key, "bytes", len(data))
	return nil
}
