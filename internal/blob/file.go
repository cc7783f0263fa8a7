package blob

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// On-disk layout of a single object:
//
//	[0]     format version
//	[1]     flags (bit 0: payload is zstd compressed)
//	[2:4]   key length, big endian
//	[4:4+n] key
//	[...]   payload
const (
	fileFormatVersion byte = 1
	flagCompressed    byte = 1 << 0
	fileHeaderSize         = 4
	fileExt                = ".blob"

	// Only compress payloads larger than this.
	compressThreshold = 1024
)

// FileStore keeps one file per key under a directory, optionally zstd
// compressed. Writes go through a temp file and rename.
type FileStore struct {
	dir string

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// serializes writers per store; readers don't lock
	mu sync.Mutex
}

// NewFileStore creates the directory if needed. compressionLevel follows
// zstd levels (1-22); 0 disables compression.
func NewFileStore(dir string, compressionLevel int) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("blob: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create directory: %w", err)
	}

	fsStore := &FileStore{dir: dir}

	// The decoder is always present so files written with compression
	// remain readable after it is switched off.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: create zstd decoder: %w", err)
	}
	fsStore.decoder = dec

	if compressionLevel > 0 {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("blob: create zstd encoder: %w", err)
		}
		fsStore.encoder = enc
	}

	return fsStore, nil
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+fileExt)
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}

	storedKey, flags, payload, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if storedKey != key {
		// sha256 prefix collision or a file copied in by hand
		return nil, ErrNotFound
	}

	if flags&flagCompressed != 0 {
		out, err := s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return out, nil
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(key) > 0xFFFF {
		return fmt.Errorf("blob: key too long (%d bytes)", len(key))
	}

	var flags byte
	payload := value
	if s.encoder != nil && len(value) > compressThreshold {
		compressed := s.encoder.EncodeAll(value, nil)
		// Only use compression if it actually reduces size
		if len(compressed) < len(value) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	buf := make([]byte, 0, fileHeaderSize+len(key)+len(payload))
	buf = append(buf, fileFormatVersion, flags, 0, 0)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(key)))
	buf = append(buf, key...)
	buf = append(buf, payload...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(key), buf)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: remove %s: %w", key, err)
	}
	return nil
}

// List reads only the header of each file. Files with an unreadable header
// are skipped; PurgeCorrupt removes them.
func (s *FileStore) List(ctx context.Context, prefix string) ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("blob: read dir: %w", err)
	}

	var out []Object
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		key, err := readKey(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, Object{Key: key, Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// PurgeCorrupt deletes files whose header cannot be read and returns how
// many were deleted.
func (s *FileStore) PurgeCorrupt(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("blob: read dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		name := filepath.Join(s.dir, e.Name())
		if _, err := readKey(name); !errors.Is(err, ErrCorrupt) {
			continue
		}
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("blob: remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Close releases the zstd encoder/decoder.
func (s *FileStore) Close() error {
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	s.decoder.Close()
	return nil
}

func decodeHeader(data []byte) (key string, flags byte, payload []byte, err error) {
	if len(data) < fileHeaderSize || data[0] != fileFormatVersion {
		return "", 0, nil, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < fileHeaderSize+n {
		return "", 0, nil, ErrCorrupt
	}
	return string(data[fileHeaderSize : fileHeaderSize+n]), data[1], data[fileHeaderSize+n:], nil
}

func readKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return "", ErrCorrupt
	}
	if hdr[0] != fileFormatVersion {
		return "", ErrCorrupt
	}
	key := make([]byte, binary.BigEndian.Uint16(hdr[2:4]))
	if _, err := io.ReadFull(r, key); err != nil {
		return "", ErrCorrupt
	}
	return string(key), nil
}

func writeFileAtomic(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("blob: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blob: write: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blob: close: %w", closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blob: rename: %w", err)
	}
	return nil
}
