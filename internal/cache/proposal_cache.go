// Package cache provides a Redis read-through cache of proposals. The cache is
// never authoritative: entries carry the proposal version, older versions
// never overwrite newer ones, and writers still rely on VersionConflict.
//
// The cache is refreshed on the committing goroutine. When that refresh
// fails, the committed version is kept as a floor in process memory and any
// cached entry below it is treated as a miss until a newer entry lands.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/internal/services"
	"github.com/sjperalta/cropcoef-api/pkg/logger"
)

const defaultTTL = 10 * time.Minute

// storeIfNewer writes the entry only when its version is strictly greater
// than the cached one. KEYS[1]=key ARGV[1]=version ARGV[2]=payload ARGV[3]=ttl ms
var storeIfNewer = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if current >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Loader reads the authoritative proposal on a cache miss
type Loader func(ctx context.Context, id string) (*models.CoefficientProposal, error)

type cachedProposal struct {
	Version  int64                       `json:"version"`
	Deleted  bool                        `json:"deleted,omitempty"`
	Proposal *models.CoefficientProposal `json:"proposal,omitempty"`
}

// ProposalCache caches proposals by id
type ProposalCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	floors map[string]int64
}

// NewProposalCache connects to redisURL
func NewProposalCache(redisURL string, ttl time.Duration) (*ProposalCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewProposalCacheWithClient(client, ttl), nil
}

// NewProposalCacheWithClient creates a cache from an existing Redis client
func NewProposalCacheWithClient(client *redis.Client, ttl time.Duration) *ProposalCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ProposalCache{
		client: client,
		prefix: "proposal:",
		ttl:    ttl,
		floors: make(map[string]int64),
	}
}

func (c *ProposalCache) key(id string) string {
	return c.prefix + id
}

// Get returns the cached proposal or loads and caches it. Redis failures
// degrade to the loader.
func (c *ProposalCache) Get(ctx context.Context, id string, load Loader) (*models.CoefficientProposal, error) {
	floor := c.floor(id)

	raw, err := c.client.HGet(ctx, c.key(id), "data").Result()
	switch {
	case err == nil:
		var cached cachedProposal
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr != nil {
			logger.Warn("Discarding unreadable cache entry", "proposal_id", id)
			break
		}
		if cached.Version < floor {
			break
		}
		if cached.Deleted {
			return nil, fmt.Errorf("%w: %s", services.ErrNotFound, id)
		}
		if cached.Proposal != nil {
			return cached.Proposal, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn("Proposal cache read failed", "proposal_id", id, "error", err)
	}

	p, err := load(ctx, id)
	if err != nil {
		if floor > 0 && errors.Is(err, services.ErrNotFound) {
			c.fill(ctx, id, cachedProposal{Version: floor, Deleted: true})
		}
		return nil, err
	}
	c.fill(ctx, id, cachedProposal{Version: p.Version, Proposal: p})
	return p, nil
}

// OnCommitted refreshes the entry after a committed mutation. Deletes leave
// a versioned tombstone so a late fill of the previous version is ignored.
func (c *ProposalCache) OnCommitted(ctx context.Context, ev services.CommittedEvent) error {
	entry := cachedProposal{Version: ev.Proposal.Version}
	if ev.Deleted() {
		entry.Deleted = true
	} else {
		p := ev.Proposal
		entry.Proposal = &p
	}
	if _, err := c.store(ctx, ev.Proposal.ID, entry); err != nil {
		c.raiseFloor(ev.Proposal.ID, entry.Version)
		return err
	}
	c.clearFloor(ev.Proposal.ID, entry.Version)
	return nil
}

func (c *ProposalCache) fill(ctx context.Context, id string, entry cachedProposal) {
	if _, err := c.store(ctx, id, entry); err != nil {
		logger.Warn("Proposal cache fill failed", "proposal_id", id, "error", err)
		return
	}
	c.clearFloor(id, entry.Version)
}

func (c *ProposalCache) floor(id string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floors[id]
}

func (c *ProposalCache) raiseFloor(id string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.floors[id] {
		c.floors[id] = version
	}
}

// clearFloor drops the floor once an entry at or above it is in Redis.
// A rejected store also counts: the script only refuses when Redis already
// holds an equal or newer version.
func (c *ProposalCache) clearFloor(id string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if floor, ok := c.floors[id]; ok && version >= floor {
		delete(c.floors, id)
	}
}

func (c *ProposalCache) store(ctx context.Context, id string, entry cachedProposal) (bool, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal cached proposal: %w", err)
	}
	stored, err := storeIfNewer.Run(ctx, c.client, []string{c.key(id)}, entry.Version, payload, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("store cached proposal: %w", err)
	}
	return stored == 1, nil
}

// Ping checks if Redis is reachable
func (c *ProposalCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ProposalCache) Close() error {
	return c.client.Close()
}
