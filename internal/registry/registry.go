// Package registry tracks the ephemeral executable resources generated
// during a build, so the previous build's resources can be retired before
// the next build creates its own.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ResourceError reports a failure to allocate an executable resource.
type ResourceError struct {
	Detail string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource error: %s", e.Detail)
}

// Registry hands out URLs for generated executable modules. Resources live
// in two generations: the active one being built, and the retired previous
// one, which stays readable until the generation after it so a preview
// still loading the prior bundle never sees its modules disappear.
type Registry struct {
	mu       sync.RWMutex
	baseURL  string
	maxSize  int
	active   map[string]string // id -> module text
	retired  map[string]string
	byURL    map[string]string // url -> id, active generation only
	newID    func(jsText string) string
}

// Config tunes a Registry.
type Config struct {
	// BaseURL prefixes generated resource URLs, e.g. "http://localhost:8080".
	BaseURL string
	// MaxResourceSize bounds a single generated module in bytes. Zero means
	// 50MB, matching the bundle size limit.
	MaxResourceSize int
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	if cfg.MaxResourceSize <= 0 {
		cfg.MaxResourceSize = 50 * 1024 * 1024
	}
	return &Registry{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		maxSize: cfg.MaxResourceSize,
		active:  make(map[string]string),
		retired: make(map[string]string),
		byURL:   make(map[string]string),
		newID:   contentID,
	}
}

// contentID derives a resource id from the module text. Content addressing
// keeps rebuild output byte-identical for identical input.
func contentID(jsText string) string {
	sum := sha256.Sum256([]byte(jsText))
	return hex.EncodeToString(sum[:12])
}

// Create allocates a URL for a generated executable module and records it
// in the active generation. The URL is stable for identical module text.
func (r *Registry) Create(jsText string) (string, error) {
	if len(jsText) > r.maxSize {
		return "", &ResourceError{
			Detail: fmt.Sprintf("generated module exceeds %d byte limit (got %d)", r.maxSize, len(jsText)),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID(jsText)
	url := fmt.Sprintf("%s/artifacts/%s.js", r.baseURL, id)
	r.active[id] = jsText
	r.byURL[url] = id
	return url, nil
}

// RevokeAll retires the active generation and drops the one retired before
// it. Called at the start of every build, never mid-build.
func (r *Registry) RevokeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := len(r.retired)
	r.retired = r.active
	r.active = make(map[string]string)
	r.byURL = make(map[string]string)
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Int("retired", len(r.retired)).Msg("Revoked build resources")
	}
}

// Lookup returns a resource's module text by id. Retired resources remain
// readable for one generation.
func (r *Registry) Lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if text, ok := r.active[id]; ok {
		return text, true
	}
	text, ok := r.retired[id]
	return text, ok
}

// Read returns the module text behind a URL created in the active
// generation.
func (r *Registry) Read(url string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byURL[url]
	if !ok {
		return "", false
	}
	text, ok := r.active[id]
	return text, ok
}

// ActiveCount reports how many resources the current build has created.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
