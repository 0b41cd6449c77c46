package store

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

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"brewlog/internal/session/models"
	"brewlog/pkg/platform/sentinel"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	// argon2id parameters for deriving the file key from a passphrase.
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// document is the on-disk layout. Plain files carry the slots directly;
// encrypted files carry only Salt and Sealed.
type document struct {
	AccessToken  string `json:"auth_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Salt         []byte `json:"salt,omitempty"`
	Sealed       []byte `json:"sealed,omitempty"`
}

// FileStore persists the token pair as a single JSON file. Writes go to a
// temp file in the same directory which is fsynced and renamed over the
// target, so a reader sees either the old pair or the new pair.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithPassphrase encrypts the file at rest with a key derived from passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(s *FileStore) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// NewFile constructs a file-backed store at path. The parent directory is
// created on first Save.
func NewFile(path string, opts ...FileOption) *FileStore {
	s := &FileStore{path: path}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*models.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("token file %s: %w", s.path, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse token file: %w", errors.Join(sentinel.ErrInvalidState, err))
	}

	if doc.Sealed != nil {
		return s.open(doc)
	}
	if doc.AccessToken == "" {
		return nil, fmt.Errorf("token file has no access token: %w", sentinel.ErrNotFound)
	}
	return &models.TokenPair{AccessToken: doc.AccessToken, RefreshToken: doc.RefreshToken}, nil
}

func (s *FileStore) Save(_ context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{AccessToken: access, RefreshToken: refresh}
	if s.passphrase != nil {
		sealed, err := s.seal(models.TokenPair{AccessToken: access, RefreshToken: refresh})
		if err != nil {
			return err
		}
		doc = sealed
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	return writeAtomic(s.path, data)
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func (s *FileStore) seal(pair models.TokenPair) (document, error) {
	plain, err := json.Marshal(pair)
	if err != nil {
		return document{}, fmt.Errorf("encode token pair: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return document{}, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return document{}, fmt.Errorf("generate nonce: %w", err)
	}

	key := s.deriveKey(salt)
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &key)
	return document{Salt: salt, Sealed: sealed}, nil
}

func (s *FileStore) open(doc document) (*models.TokenPair, error) {
	if s.passphrase == nil {
		return nil, fmt.Errorf("token file is encrypted and no passphrase is configured: %w", sentinel.ErrInvalidState)
	}
	if len(doc.Sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("token file ciphertext truncated: %w", sentinel.ErrInvalidState)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], doc.Sealed[:nonceSize])
	key := s.deriveKey(doc.Salt)
	plain, ok := secretbox.Open(nil, doc.Sealed[nonceSize:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("token file cannot be decrypted: %w", sentinel.ErrInvalidState)
	}

	var pair models.TokenPair
	if err := json.Unmarshal(plain, &pair); err != nil {
		return nil, fmt.Errorf("parse decrypted token pair: %w", errors.Join(sentinel.ErrInvalidState, err))
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("token file has no access token: %w", sentinel.ErrNotFound)
	}
	return &pair, nil
}

func (s *FileStore) deriveKey(salt []byte) [keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, kdfTime, kdfMemory, kdfThreads, keySize))
	return key
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
