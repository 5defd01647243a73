package docstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Files keeps one file per document under dir: <key>.json, or <key>.json.zst
// when compressed. Writes go to a temp file that is renamed into place.
type Files struct {
	dir      string
	compress bool

	mu     sync.Mutex
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	closed bool
}

func OpenFiles(dir string, compress bool) (*Files, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty document dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f := &Files{dir: dir, compress: compress}
	var err error
	if f.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		return nil, err
	}
	if f.dec, err = zstd.NewReader(nil); err != nil {
		f.enc.Close()
		return nil, err
	}
	return f, nil
}

func (f *Files) path(key string, compressed bool) string {
	if compressed {
		return filepath.Join(f.dir, key+".json.zst")
	}
	return filepath.Join(f.dir, key+".json")
}

// Get prefers the configured encoding but falls back to the other one, so
// toggling compression keeps existing data readable.
func (f *Files) Get(key string) ([]byte, bool, error) {
	if !validKey.MatchString(key) {
		return nil, false, fmt.Errorf("invalid document key %q", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false, ErrClosed
	}
	for _, compressed := range []bool{f.compress, !f.compress} {
		raw, err := os.ReadFile(f.path(key, compressed))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if !compressed {
			return raw, true, nil
		}
		body, err := f.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, false, fmt.Errorf("decompress %s: %w", key, err)
		}
		return body, true, nil
	}
	return nil, false, nil
}

func (f *Files) Put(key string, body []byte) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid document key %q", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	data := body
	if f.compress {
		data = f.enc.EncodeAll(body, nil)
	}
	final := f.path(key, f.compress)
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	// Drop the copy in the other encoding so a stale version never wins.
	_ = os.Remove(f.path(key, !f.compress))
	return nil
}

func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.dec.Close()
	return f.enc.Close()
}
