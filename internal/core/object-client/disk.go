package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/documind/internal/core"
)

var _ core.ObjectClient = (*DiskClient)(nil)

// DiskClient keeps uploads under a local directory. Keys map to relative paths.
type DiskClient struct {
	root string
}

func NewDiskClient(root string) (*DiskClient, error) {
	if root == "" {
		return nil, fmt.Errorf("upload directory not set")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &DiskClient{root: abs}, nil
}

func (c *DiskClient) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	p := filepath.Join(c.root, clean)
	if p == c.root || !strings.HasPrefix(p, c.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: bad object key %q", core.ErrInvalidInput, key)
	}
	return p, nil
}

func (c *DiskClient) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	p, err := c.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	// write then rename so readers never see a partial file
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	return "file://" + filepath.ToSlash(p), nil
}

func (c *DiskClient) GetFile(_ context.Context, key string) ([]byte, error) {
	p, err := c.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	return data, nil
}

func (c *DiskClient) DeleteFile(_ context.Context, key string) error {
	p, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	// drop the per-document directory once empty
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func (c *DiskClient) Ping(context.Context) error {
	st, err := os.Stat(c.root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", c.root)
	}
	return nil
}
