// Package filestore is a durable storage.Store backed by a single JSON file,
// optionally sealed with XChaCha20-Poly1305 under a passphrase-derived key.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/imhotep-client/storage"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltLen = 16
	keyLen  = chacha20poly1305.KeySize

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var _ storage.Store = (*Store)(nil)

// Store keeps every key in one file so a session is written as a unit.
type Store struct {
	path       string
	passphrase []byte

	mu      sync.Mutex
	salt    []byte
	key     []byte
	keyFunc func(passphrase, salt []byte) []byte
}

type Option func(*Store)

// WithPassphrase enables encryption at rest.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// WithKeyDerivation overrides the Argon2id derivation. Used by tests to avoid
// the memory cost of the default parameters.
func WithKeyDerivation(f func(passphrase, salt []byte) []byte) Option {
	return func(s *Store) {
		s.keyFunc = f
	}
}

// New creates a file store at path. The file is created lazily on first Set.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore New] path is required")
	}
	s := &Store{
		path:    path,
		keyFunc: deriveKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultPath returns the token file location under the user config dir,
// honouring XDG_CONFIG_HOME.
func DefaultPath(appName string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, appName, "session.json")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName, "session.json")
}

// Path returns the backing file path
func (s *Store) Path() string { return s.path }

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[filestore load] read %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return map[string]string{}, nil
	}

	if s.passphrase != nil {
		raw, err = s.open(raw)
		if err != nil {
			return nil, err
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("[filestore load] decode: %w", err)
	}
	return values, nil
}

func (s *Store) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("[filestore save] encode: %w", err)
	}
	if s.passphrase != nil {
		data, err = s.seal(data)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("[filestore save] mkdir: %w", err)
	}

	// write-then-rename so a crash never leaves a half written session
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("[filestore save] temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[filestore save] write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[filestore save] chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filestore save] close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("[filestore save] rename: %w", err)
	}
	return nil
}

// Sealed layout: salt || nonce || ciphertext.
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	if s.salt == nil {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("[filestore seal] salt: %w", err)
		}
		s.salt = salt
		s.key = nil
	}
	aead, err := chacha20poly1305.NewX(s.keyFor(s.salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("[filestore seal] nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, s.salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("[filestore open] sealed file too short")
	}
	salt := sealed[:saltLen]
	nonce := sealed[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ct := sealed[saltLen+chacha20poly1305.NonceSizeX:]

	if s.salt == nil || string(s.salt) != string(salt) {
		s.salt = append([]byte(nil), salt...)
		s.key = nil
	}
	aead, err := chacha20poly1305.NewX(s.keyFor(s.salt))
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("[filestore open] wrong passphrase or corrupt file: %w", err)
	}
	return pt, nil
}

func (s *Store) keyFor(salt []byte) []byte {
	if s.key == nil {
		s.key = s.keyFunc(s.passphrase, salt)
	}
	return s.key
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
}
