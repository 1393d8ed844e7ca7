// Package notify fans raid state changes out to configured Slack and
// Discord endpoints once a raid first crosses the confidence threshold.
// Delivery is fire-and-forget: failures are logged, never retried, and
// never fail the save that triggered them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/settings"
	"github.com/raidikalu/raidikalu/src/types"
	"github.com/raidikalu/raidikalu/src/votes"
)

const (
	// ConfidenceThreshold is the minimum boss or tier confidence before
	// a raid is considered notification-worthy.
	ConfidenceThreshold = 3

	dedupKey = "raidikalu:already_notified_raid_ids"
	dedupMax = 100
	dedupTTL = 300 * 24 * time.Hour
)

type Notifier struct {
	db       *gorm.DB
	rdb      *redis.Client
	settings *settings.Resolver
}

func New(db *gorm.DB, rdb *redis.Client, resolver *settings.Resolver) *Notifier {
	return &Notifier{db: db, rdb: rdb, settings: resolver}
}

// NotifyRaid fires the external notifications for a raid the first time
// its boss or tier confidence reaches the threshold. Deduplicated per
// raid id through a bounded FIFO list in the shared cache; the
// read-modify-write is not transactional, so concurrent saves of the
// same raid can double-notify, which the best-effort delivery stance
// accepts.
func (n *Notifier) NotifyRaid(ctx context.Context, raid *types.Raid) {
	if raid.MonsterName == "" && raid.Tier == nil {
		return
	}

	notified := n.alreadyNotified(ctx)
	for _, id := range notified {
		if id == raid.ID {
			return
		}
	}

	shouldNotify := false
	if raid.MonsterName != "" {
		confidence, err := votes.Confidence(n.db, raid, types.FieldMonster)
		if err != nil {
			log.Printf("notify: boss confidence for raid %d: %v", raid.ID, err)
			return
		}
		shouldNotify = confidence >= ConfidenceThreshold
	}
	if !shouldNotify && raid.Tier != nil {
		confidence, err := votes.Confidence(n.db, raid, types.FieldTier)
		if err != nil {
			log.Printf("notify: tier confidence for raid %d: %v", raid.ID, err)
			return
		}
		shouldNotify = confidence >= ConfidenceThreshold
	}
	if !shouldNotify {
		return
	}

	n.dispatch(ctx, raid)

	notified = append(notified, raid.ID)
	if len(notified) > dedupMax {
		notified = notified[len(notified)-dedupMax:]
	}
	n.storeNotified(ctx, notified)
}

// dispatch delivers to every matching rule in the current settings
// snapshot. A missing boss or tier filter matches everything; each
// (channel, webhook) destination is hit at most once per pass even when
// several rules resolve to it.
func (n *Notifier) dispatch(ctx context.Context, raid *types.Raid) {
	snap, err := n.settings.Current(ctx)
	if err != nil {
		log.Printf("notify: settings resolve failed: %v", err)
		return
	}

	type destination struct {
		channel string
		webhook string
	}
	delivered := make(map[destination]struct{})

	for _, rule := range snap.Rules {
		if rule.Monster != nil && *rule.Monster != raid.MonsterName {
			continue
		}
		if rule.Tier != nil && (raid.Tier == nil || *rule.Tier != *raid.Tier) {
			continue
		}
		dest := destination{channel: rule.Channel, webhook: rule.Webhook}
		if _, done := delivered[dest]; done {
			continue
		}
		delivered[dest] = struct{}{}

		switch rule.Service {
		case "slack":
			n.notifySlack(ctx, raid, rule)
		case "discord":
			n.notifyDiscord(ctx, raid, rule)
		default:
			n.postWebhook(ctx, raid, rule)
		}
	}
}

func (n *Notifier) alreadyNotified(ctx context.Context) []uint64 {
	raw, err := n.rdb.Get(ctx, dedupKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("notify: dedup read failed: %v", err)
		}
		return nil
	}
	var ids []uint64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Printf("notify: malformed dedup list: %v", err)
		return nil
	}
	return ids
}

func (n *Notifier) storeNotified(ctx context.Context, ids []uint64) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := n.rdb.Set(ctx, dedupKey, raw, dedupTTL).Err(); err != nil {
		log.Printf("notify: dedup write failed: %v", err)
	}
}
