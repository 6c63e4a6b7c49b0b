package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MrEthical07/orgauth/store"
)

// Slice names, also used as key prefixes and metric labels.
const (
	SliceMembership  = "membership"
	SlicePermissions = "permissions"
	SliceSettings    = "settings"
)

// Config controls cache sizing and expiry.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxEntries    int           `yaml:"max_entries"`
}

// DefaultConfig returns a five minute TTL swept every minute.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		TTL:           5 * time.Minute,
		SweepInterval: time.Minute,
		MaxEntries:    10000,
	}
}

// Observer receives hit/miss notifications.
type Observer interface {
	ObserveCache(slice string, hit bool)
}

type entry struct {
	data      any
	expiresAt time.Time
}

// PermissionCache is a derived, invalidatable view over memberships,
// resolved permission sets, and organization settings. It owns no source of
// truth: every reader must fall back to the store on a miss. A nil
// *PermissionCache behaves as a disabled cache.
//
// Writers pass the Generation they captured before reading the store. Any
// invalidation since then moves the generation and the write is dropped, so
// a row read before a concurrent change is never cached after it.
type PermissionCache struct {
	cfg      Config
	entries  *lru.LRU[string, entry]
	now      func() time.Time
	observer Observer

	// mu orders conditional writes against invalidations.
	mu  sync.Mutex
	gen atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a PermissionCache.
type Option func(*PermissionCache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *PermissionCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver attaches a hit/miss observer.
func WithObserver(o Observer) Option {
	return func(c *PermissionCache) {
		c.observer = o
	}
}

// New constructs a cache. Construct one per process and pass it to every component.
func New(cfg Config, opts ...Option) *PermissionCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}

	c := &PermissionCache{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// The LRU's own TTL is a backstop for memory; expiry decisions use expiresAt and c.now.
	c.entries = lru.NewLRU[string, entry](cfg.MaxEntries, nil, 2*cfg.TTL)
	return c
}

func membershipKey(userID, orgID string) string {
	return SliceMembership + ":" + userID + ":" + orgID
}

func permissionsKey(userID, orgID string) string {
	return SlicePermissions + ":" + userID + ":" + orgID
}

func settingsKey(orgID string) string {
	return SliceSettings + ":" + orgID
}

func (c *PermissionCache) enabled() bool {
	return c != nil && c.cfg.Enabled
}

func (c *PermissionCache) get(slice, key string) (any, bool) {
	if !c.enabled() {
		return nil, false
	}

	e, ok := c.entries.Get(key)
	if ok && !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		ok = false
	}

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer.ObserveCache(slice, ok)
	}
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Generation identifies the current invalidation epoch. Capture it before
// the store read whose result will be cached.
func (c *PermissionCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	return c.gen.Load()
}

// put stores data unless an invalidation happened after gen was captured.
// It reports whether the entry was stored.
func (c *PermissionCache) put(gen uint64, key string, data any) bool {
	if !c.enabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != gen {
		return false
	}
	c.entries.Add(key, entry{data: data, expiresAt: c.now().Add(c.cfg.TTL)})
	return true
}

func (c *PermissionCache) bump() {
	c.gen.Add(1)
}

// Membership returns the cached membership of a user in an organization.
func (c *PermissionCache) Membership(userID, orgID string) (store.Membership, bool) {
	v, ok := c.get(SliceMembership, membershipKey(userID, orgID))
	if !ok {
		return store.Membership{}, false
	}
	m, ok := v.(store.Membership)
	return m, ok
}

// PutMembership caches a membership row read at generation gen.
func (c *PermissionCache) PutMembership(gen uint64, m store.Membership) bool {
	return c.put(gen, membershipKey(m.UserID, m.OrganizationID), m)
}

// Permissions returns the cached resolved permission set of a user in an organization.
func (c *PermissionCache) Permissions(userID, orgID string) ([]string, bool) {
	v, ok := c.get(SlicePermissions, permissionsKey(userID, orgID))
	if !ok {
		return nil, false
	}
	perms, ok := v.([]string)
	if !ok {
		return nil, false
	}
	return append([]string(nil), perms...), true
}

// PutPermissions caches a permission set resolved at generation gen.
func (c *PermissionCache) PutPermissions(gen uint64, userID, orgID string, perms []string) bool {
	return c.put(gen, permissionsKey(userID, orgID), append([]string(nil), perms...))
}

// OrgSettings returns the cached security settings of an organization.
func (c *PermissionCache) OrgSettings(orgID string) (store.OrgSettings, bool) {
	v, ok := c.get(SliceSettings, settingsKey(orgID))
	if !ok {
		return store.OrgSettings{}, false
	}
	s, ok := v.(store.OrgSettings)
	if !ok {
		return store.OrgSettings{}, false
	}
	return s.Clone(), true
}

// PutOrgSettings caches organization settings read at generation gen.
func (c *PermissionCache) PutOrgSettings(gen uint64, orgID string, s store.OrgSettings) bool {
	return c.put(gen, settingsKey(orgID), s.Clone())
}

// InvalidateUser evicts every entry whose key contains userID. Matching is by
// substring, so unrelated keys that happen to contain the identifier are
// evicted too. It returns the number of evicted entries.
func (c *PermissionCache) InvalidateUser(userID string) int {
	return c.evictMatching(userID)
}

// InvalidateOrganization evicts every entry whose key contains orgID.
func (c *PermissionCache) InvalidateOrganization(orgID string) int {
	return c.evictMatching(orgID)
}

func (c *PermissionCache) evictMatching(id string) int {
	if c == nil || c.entries == nil || id == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
	n := 0
	for _, key := range c.entries.Keys() {
		if strings.Contains(key, id) {
			if c.entries.Remove(key) {
				n++
			}
		}
	}
	return n
}

// Sweep removes every expired entry and returns how many were removed.
func (c *PermissionCache) Sweep() int {
	if c == nil || c.entries == nil {
		return 0
	}
	now := c.now()
	n := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			if c.entries.Remove(key) {
				n++
			}
		}
	}
	return n
}

// Purge drops every entry.
func (c *PermissionCache) Purge() {
	if c == nil || c.entries == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump()
	c.entries.Purge()
}

// Len is the number of stored entries, including ones not yet swept.
func (c *PermissionCache) Len() int {
	if c == nil || c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Stats is a point-in-time hit/miss snapshot.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Stats returns hit and miss counters.
func (c *PermissionCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.Len()}
}

// SweepInterval is the configured period between sweeps.
func (c *PermissionCache) SweepInterval() time.Duration {
	if c == nil || c.cfg.SweepInterval <= 0 {
		return DefaultConfig().SweepInterval
	}
	return c.cfg.SweepInterval
}
