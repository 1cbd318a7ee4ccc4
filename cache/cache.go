// Package cache is the shared content cache: a versioned section/key
// byte store backed by Redis. The extractor uses it to carry its own
// metadata cache across cold worker instances. Failures on either side
// are reported as a cache miss, never as an error; readers treat
// absence the same way.
package cache

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"telegram-audio-bot/utils"
)

// entryVersion invalidates everything previously stored when the
// envelope layout changes.
const entryVersion = 1

type entry struct {
	Version int    `json:"version"`
	Data    []byte `json:"data"`
}

type Cache struct {
	rdb       redis.UniversalClient
	namespace string
	logger    *utils.Logger
}

func NewCache(rdb redis.UniversalClient, namespace string, logger *utils.Logger) *Cache {
	return &Cache{rdb: rdb, namespace: namespace, logger: logger}
}

func (c *Cache) key(section, key string) string {
	return c.namespace + ":" + section + ":" + key
}

// Store saves bytes under (section, key). Errors are logged and
// swallowed; a failed write just means the next Load misses.
func (c *Cache) Store(ctx context.Context, section, key string, data []byte) {
	payload, err := json.Marshal(entry{Version: entryVersion, Data: data})
	if err != nil {
		c.logger.WithError(err).WithField("section", section).Warn("Cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, c.key(section, key), payload, 0).Err(); err != nil {
		c.logger.WithError(err).
			WithField("section", section).
			WithField("key", key).
			Warn("Cache write failed")
	}
}

// Load fetches bytes for (section, key). Any failure, including a
// version mismatch, reads as a miss.
func (c *Cache) Load(ctx context.Context, section, key string) ([]byte, bool) {
	payload, err := c.rdb.Get(ctx, c.key(section, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).
				WithField("section", section).
				WithField("key", key).
				Warn("Cache read failed")
		}
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(payload, &e); err != nil || e.Version != entryVersion {
		return nil, false
	}
	return e.Data, true
}

// Keys lists the stored keys of one section. Errors read as an empty
// section.
func (c *Cache) Keys(ctx context.Context, section string) []string {
	prefix := c.namespace + ":" + section + ":"
	var keys []string

	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).WithField("section", section).Warn("Cache scan failed")
		return nil
	}
	return keys
}

// EntryKey identifies one cached value.
type EntryKey struct {
	Section string
	Key     string
}

// Entries lists every (section, key) pair in the namespace. Keys with
// embedded separators are skipped; extractor cache keys are plain file
// names.
func (c *Cache) Entries(ctx context.Context) []EntryKey {
	prefix := c.namespace + ":"
	var entries []EntryKey

	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rest := iter.Val()[len(prefix):]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 || strings.Contains(parts[1], ":") {
			continue
		}
		entries = append(entries, EntryKey{Section: parts[0], Key: parts[1]})
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("Cache scan failed")
		return nil
	}
	return entries
}
