package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"contest_judge/internal/common"
)

// Store is the opaque object storage the engine depends on.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	PublicURL(ctx context.Context, locator string) (string, error)
}

// DiskStore keeps blobs under a root directory. Locators are "bucket/key".
type DiskStore struct {
	root          string
	publicBaseURL string
}

func NewDiskStore(root, publicBaseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &DiskStore{root: root, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Root is the directory the blobs live under.
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) Put(ctx context.Context, bucket, key string, data []byte, _ map[string]string) (string, error) {
	locator := path.Join(bucket, key)
	p, err := s.path(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("blobstore put %s: %w", locator, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore put %s: %w", locator, err)
	}
	return locator, nil
}

func (s *DiskStore) Get(ctx context.Context, locator string) ([]byte, error) {
	p, err := s.path(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", locator, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore get %s: %w", locator, err)
	}
	return data, nil
}

func (s *DiskStore) PublicURL(ctx context.Context, locator string) (string, error) {
	if _, err := s.path(locator); err != nil {
		return "", err
	}
	segments := strings.Split(locator, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/"), nil
}

func (s *DiskStore) path(locator string) (string, error) {
	clean := path.Clean("/" + locator)
	if clean == "/" || strings.Contains(locator, "..") {
		return "", fmt.Errorf("invalid blob locator %q: %w", locator, common.ErrValidation)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
