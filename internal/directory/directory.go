// Package directory resolves user identifiers to display names and locales.
//
// Resolution is delegated to the identity collaborator behind the Resolver
// interface; results are cached with a TTL and misses are deduplicated with
// singleflight so concurrent report rendering cannot stampede the resolver.
package directory

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/statbot/internal/logging"
)

var log = logging.Component("directory")

// Document is the identity information a resolver can provide. Any field
// may be empty.
type Document struct {
	Name     string
	Language string
	Locale   string
}

// Resolver fetches the identity document for a user identifier.
// Returning a nil document (with nil error) means the identity is unknown.
type Resolver interface {
	Document(id string) (*Document, error)
}

// NullResolver knows no identities; every lookup falls back to the
// identifier itself.
type NullResolver struct{}

// Document implements Resolver.
func (NullResolver) Document(id string) (*Document, error) {
	return nil, nil
}

type cacheEntry struct {
	doc       *Document
	createdAt time.Time
}

// Directory caches resolved identity documents.
// Safe for concurrent use.
type Directory struct {
	resolver Resolver
	ttl      time.Duration

	cache sync.Map // id → *cacheEntry
	group singleflight.Group
}

// New creates a directory over a resolver.
func New(resolver Resolver, ttl time.Duration) *Directory {
	return &Directory{resolver: resolver, ttl: ttl}
}

// Name returns a display name for the identifier.
//
// Fallback chain: document name, then the name part of "name@address",
// then the address itself.
func (d *Directory) Name(id string) string {
	if doc := d.lookup(id); doc != nil && doc.Name != "" {
		return doc.Name
	}

	name, addr, found := strings.Cut(id, "@")
	if found && name != "" {
		return name
	}
	if found {
		return addr
	}
	return id
}

// Locale returns the language/locale string for the identifier, combining
// both when present: "en(US)". Empty when neither is known.
func (d *Directory) Locale(id string) string {
	doc := d.lookup(id)
	if doc == nil {
		return ""
	}

	switch {
	case doc.Language == "":
		return doc.Locale
	case doc.Locale == "":
		return doc.Language
	default:
		return doc.Language + "(" + doc.Locale + ")"
	}
}

// lookup returns the cached document for an identifier, consulting the
// resolver on miss or expiry. Resolver failures are logged and treated as
// unknown identity so rendering can always proceed.
func (d *Directory) lookup(id string) *Document {
	if entry, ok := d.cache.Load(id); ok {
		cached := entry.(*cacheEntry)
		if time.Since(cached.createdAt) < d.ttl {
			return cached.doc
		}
	}

	result, err, _ := d.group.Do(id, func() (interface{}, error) {
		doc, err := d.resolver.Document(id)
		if err != nil {
			return nil, err
		}
		d.cache.Store(id, &cacheEntry{doc: doc, createdAt: time.Now()})
		return doc, nil
	})
	if err != nil {
		log.Debug("identity resolution failed", "id", id, "error", err)
		return nil
	}

	doc, _ := result.(*Document)
	return doc
}
