// Package visitor issues and persists durable pseudo-identities for
// unauthenticated visitors. The token deduplicates anonymous likes: the
// store holds at most one engagement record per (pet, token) pair.
//
// Tokens are UUID v7 strings (issue-time millis + random suffix), minted
// at most once per storage scope and never rotated. Providers must
// persist a freshly minted token before returning it, so a crash between
// mint and first use cannot orphan an identity.
package visitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pawtag/internal/idgen"
)

// Provider supplies the visitor token for the current storage scope.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Get returns the stored token, if any. A missing token is not an
	// error: ok is false and the caller proceeds unidentified.
	Get() (token string, ok bool, err error)

	// GetOrCreate returns the stored token, minting and persisting a new
	// one first if absent. Idempotent: two sequential calls return the
	// same token.
	GetOrCreate() (string, error)
}

/***************
 * File-backed provider
 ***************/

// FileProvider stores the token in a single file, the local analogue of
// browser localStorage.
type FileProvider struct {
	path string
	ids  idgen.Generator

	mu sync.Mutex
}

// NewFileProvider creates a FileProvider storing the token at path.
// A nil generator defaults to UUID v7.
func NewFileProvider(path string, ids idgen.Generator) *FileProvider {
	if ids == nil {
		ids = idgen.NewV7()
	}
	return &FileProvider{path: path, ids: ids}
}

// DefaultPath returns the conventional token location under the user
// config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "pawtag", "visitor_id"), nil
}

func (p *FileProvider) Get() (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read()
}

func (p *FileProvider) GetOrCreate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token, ok, err := p.read()
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}

	id, err := p.ids.Generate()
	if err != nil {
		return "", fmt.Errorf("mint visitor token: %w", err)
	}
	token = id.String()

	// Persist before returning: the token must be durable before any
	// engagement record references it.
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return "", fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist visitor token: %w", err)
	}
	return token, nil
}

func (p *FileProvider) read() (string, bool, error) {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read visitor token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

/***************
 * In-memory provider
 ***************/

// MemProvider holds the token in memory only. Used as the degraded
// fallback when durable storage is unavailable (the identity then lives
// for one session) and as the test substitute.
type MemProvider struct {
	ids idgen.Generator

	mu    sync.Mutex
	token string
}

// NewMemProvider creates an in-memory provider. A nil generator defaults
// to UUID v7. seed pre-loads a token, which tests use for determinism.
func NewMemProvider(ids idgen.Generator, seed string) *MemProvider {
	if ids == nil {
		ids = idgen.NewV7()
	}
	return &MemProvider{ids: ids, token: seed}
}

func (p *MemProvider) Get() (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, p.token != "", nil
}

func (p *MemProvider) GetOrCreate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}
	id, err := p.ids.Generate()
	if err != nil {
		return "", fmt.Errorf("mint visitor token: %w", err)
	}
	p.token = id.String()
	return p.token, nil
}
