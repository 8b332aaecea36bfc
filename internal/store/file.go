package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/extremofile"
)

const blockSize = 512

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

type space struct {
	file   storage
	values map[string]string
	size   int // largest record written or read, see encode
}

// FileStore keeps one extremofile per namespace under root. Each namespace is
// a JSON object of string values. Writes are synced main+backup copies, so a
// power cut during Set leaves either the old or the new value readable.
type FileStore struct {
	mu     sync.Mutex
	root   string
	log    logrus.FieldLogger
	spaces map[string]*space
}

// NewFileStore creates a FileStore rooted at dir. No IO is performed until the
// first access to a namespace.
func NewFileStore(dir string, log logrus.FieldLogger) *FileStore {
	return &FileStore{
		root:   dir,
		log:    log.WithField("component", "store"),
		spaces: make(map[string]*space),
	}
}

// Get returns the stored value for namespace/key.
// A namespace that cannot be read behaves as empty; the error is logged.
func (s *FileStore) Get(namespace, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(namespace)
	if err != nil {
		s.log.WithError(err).WithField("namespace", namespace).Error("read failed")
		return "", false
	}
	v, ok := sp.values[key]
	return v, ok
}

// Set stores value under namespace/key.
func (s *FileStore) Set(namespace, key, value string) error {
	if namespace == "" || key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(namespace)
	if err != nil {
		return err
	}
	prev, had := sp.values[key]
	sp.values[key] = value
	if err := s.flush(namespace, sp); err != nil {
		if had {
			sp.values[key] = prev
		} else {
			delete(sp.values, key)
		}
		return err
	}
	return nil
}

// Remove deletes namespace/key.
func (s *FileStore) Remove(namespace, key string) error {
	if namespace == "" || key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(namespace)
	if err != nil {
		return err
	}
	prev, had := sp.values[key]
	if !had {
		return nil
	}
	delete(sp.values, key)
	if err := s.flush(namespace, sp); err != nil {
		sp.values[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) load(namespace string) (*space, error) {
	if namespace == "" {
		return nil, ErrInvalidKey
	}
	if sp, ok := s.spaces[namespace]; ok {
		return sp, nil
	}

	sp := &space{
		file: extremofile.New(extremofile.Config{
			Dir:      filepath.Join(s.root, namespace),
			DirPerm:  0700,
			FilePerm: 0600,
		}),
		values: make(map[string]string),
	}
	b, err := sp.file.Read()
	if err != nil && extremofile.IsCritical(err) {
		return nil, fmt.Errorf("store %s: read: %w", namespace, err)
	}
	if err != nil {
		// Main copy broken, backup was used.
		s.log.WithError(err).WithField("namespace", namespace).Warn("recovered from backup")
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &sp.values); err != nil {
			return nil, fmt.Errorf("store %s: decode: %w", namespace, err)
		}
		sp.size = len(b)
	}
	s.spaces[namespace] = sp
	return sp, nil
}

func (s *FileStore) flush(namespace string, sp *space) error {
	b, err := encode(sp.values, sp.size)
	if err != nil {
		return fmt.Errorf("store %s: encode: %w", namespace, err)
	}
	if _, err := sp.file.Write(b); err != nil {
		return fmt.Errorf("store %s: write: %w", namespace, err)
	}
	sp.size = len(b)
	return nil
}

// encode marshals values and pads the record with spaces to at least minSize,
// rounded up to blockSize. extremofile rewrites its files in place without
// truncating, so a record must never be shorter than the previous one.
func encode(values map[string]string, minSize int) ([]byte, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	size := len(b)
	if size < minSize {
		size = minSize
	}
	size = (size + blockSize - 1) / blockSize * blockSize
	return append(b, bytes.Repeat([]byte{' '}, size-len(b))...), nil
}
