// Package media fetches static assets the bot sends, currently just the
// welcome video.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"joinbot/pkg/logx"
)

// Ensure downloads url to path unless the file already exists. The write
// goes through a temp file and rename so a failed download never leaves a
// truncated asset behind.
func Ensure(ctx context.Context, path, url string, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	if _, err := os.Stat(path); err == nil {
		log.Debug("asset present; skipping download", logx.String("path", path))
		return nil
	}
	if url == "" {
		return fmt.Errorf("asset %s missing and no download url configured", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("asset download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset download: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("asset write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.Info("asset downloaded", logx.String("path", path), logx.Int64("bytes", n))
	return nil
}
