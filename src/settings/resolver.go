// Package settings resolves the currently effective editable settings
// snapshot: the recognized boss list and the active notification rules.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/types"
)

// generationKey is bumped in Redis on every settings write so other
// processes drop their cached snapshot on the next resolve.
const generationKey = "raidikalu:settings:generation"

// Snapshot is a resolved settings record. The zero value is the
// synthesized default used when no settings rows exist.
type Snapshot struct {
	RaidTypes []types.SettingsRaidType
	Rules     []types.NotificationRule
	ExpiresAt time.Time
}

// Resolver caches the current snapshot in process memory until the
// snapshot's own expiry passes or Invalidate is called. Readers racing
// a writer may observe the previous snapshot for up to one resolution
// cycle; that staleness window is an accepted property of the design,
// not something the resolver tries to close.
type Resolver struct {
	db  *gorm.DB
	rdb *redis.Client

	mu        sync.Mutex
	cached    *Snapshot
	cachedGen int64
}

func NewResolver(db *gorm.DB, rdb *redis.Client) *Resolver {
	return &Resolver{db: db, rdb: rdb}
}

// Current returns the cached snapshot while it is unexpired and no
// other process has invalidated settings; otherwise it re-resolves.
// Selection order: earliest still-unexpired snapshot, then the snapshot
// with the latest expiry, then a synthesized empty default.
func (r *Resolver) Current(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gen := r.generation(ctx)
	if r.cached != nil && r.cached.ExpiresAt.After(time.Now()) && gen == r.cachedGen {
		return r.cached, nil
	}

	snap, err := r.resolve()
	if err != nil {
		return nil, err
	}
	r.cached = snap
	r.cachedGen = gen
	return snap, nil
}

// Invalidate drops the cached snapshot. Call it after every settings
// write. The Redis generation bump is best-effort; if it fails, other
// processes converge once their cached snapshot expires.
func (r *Resolver) Invalidate(ctx context.Context) {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()

	if r.rdb != nil {
		if err := r.rdb.Incr(ctx, generationKey).Err(); err != nil {
			log.Printf("settings: generation bump failed: %v", err)
		}
	}
}

// BossTier looks a boss name up in the current snapshot's boss list.
// First match wins; no match returns false.
func (r *Resolver) BossTier(ctx context.Context, monsterName string) (int, bool, error) {
	snap, err := r.Current(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, rt := range snap.RaidTypes {
		if rt.Monster == monsterName {
			return rt.Tier, true, nil
		}
	}
	return 0, false, nil
}

func (r *Resolver) resolve() (*Snapshot, error) {
	var row types.EditableSettings
	err := r.db.Where("expires_at > ?", time.Now()).Order("expires_at ASC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = r.db.Order("expires_at DESC").First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ExpiresAt: row.ExpiresAt}
	if row.RaidTypesJSON != "" {
		if err := json.Unmarshal([]byte(row.RaidTypesJSON), &snap.RaidTypes); err != nil {
			// Malformed stored settings degrade to an empty list so the
			// resolver stays available.
			log.Printf("settings: malformed raid types JSON in snapshot %d: %v", row.ID, err)
			snap.RaidTypes = nil
		}
	}
	if row.NotificationsJSON != "" {
		if err := json.Unmarshal([]byte(row.NotificationsJSON), &snap.Rules); err != nil {
			log.Printf("settings: malformed notifications JSON in snapshot %d: %v", row.ID, err)
			snap.Rules = nil
		}
	}
	return snap, nil
}

// generation reads the cross-process settings generation. Callers must
// hold r.mu: the cached generation doubles as the fallback when Redis
// is unreachable.
func (r *Resolver) generation(ctx context.Context) int64 {
	if r.rdb == nil {
		return r.cachedGen
	}
	gen, err := r.rdb.Get(ctx, generationKey).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("settings: generation read failed: %v", err)
		}
		return r.cachedGen
	}
	return gen
}
