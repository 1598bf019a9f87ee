package cache

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/dispatcher"
)

// SessionCache holds session state for multiple vehicles, keyed by VIN.
type SessionCache struct {
	MaxEntries int
	Vehicles   map[string][]dispatcher.CacheEntry `json:"vehicles"`
	lock       sync.Mutex
}

// New returns a SessionCache holding session state for up to maxEntries vehicles, evicting the
// vehicle with the oldest sessions when full. Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *SessionCache {
	return &SessionCache{
		MaxEntries: maxEntries,
		Vehicles:   make(map[string][]dispatcher.CacheEntry),
	}
}

// Import reads a SessionCache previously written with [SessionCache.Export].
func Import(r io.Reader) (*SessionCache, error) {
	var c SessionCache
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, err
	}
	if c.Vehicles == nil {
		c.Vehicles = make(map[string][]dispatcher.CacheEntry)
	}
	return &c, nil
}

// ImportFromFile reads a SessionCache from disk.
func ImportFromFile(filename string) (*SessionCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Import(file)
}

// Export writes a serialized SessionCache to w.
func (c *SessionCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a SessionCache to disk. The file contains session key material and is
// created readable only by the owner.
func (c *SessionCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()
	return c.Export(file)
}

// newestSession returns the creation time of the most recent session in entries. A vehicle's age
// for eviction purposes is the age of its freshest domain session.
func newestSession(entries []dispatcher.CacheEntry) time.Time {
	var newest time.Time
	for _, entry := range entries {
		if entry.CreatedAt.After(newest) {
			newest = entry.CreatedAt
		}
	}
	return newest
}

// Update replaces the cached sessions for a vin. Clients normally call
// vehicle.UpdateCachedSessions instead of using this method directly.
func (c *SessionCache) Update(vin string, sessions []dispatcher.CacheEntry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.Vehicles[vin] = sessions
	for c.MaxEntries > 0 && len(c.Vehicles) > c.MaxEntries {
		evict := vin
		evictAge := time.Now()
		for v, entries := range c.Vehicles {
			if age := newestSession(entries); age.Before(evictAge) {
				evict = v
				evictAge = age
			}
		}
		delete(c.Vehicles, evict)
	}
	return nil
}

// GetEntry returns the sessions associated with vin.
func (c *SessionCache) GetEntry(vin string) ([]dispatcher.CacheEntry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	sessions, ok := c.Vehicles[vin]
	return sessions, ok
}
