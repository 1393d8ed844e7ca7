// Package types holds the persisted models and the shared raid timing
// rules. Models are dumb records; the services own all behavior beyond
// the raid's own derived-value helpers defined here.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RaidEggDuration is how long a raid egg sits before the battle
	// window opens.
	RaidEggDuration = time.Hour
	// RaidBattleDuration is how long the battle window stays open once
	// the raid has hatched.
	RaidBattleDuration = 45 * time.Minute
)

// EnDash stands in for any timing or tier value that is not known yet.
const EnDash = "–"

// VoteField names one voteable raid attribute.
type VoteField string

const (
	FieldTier       VoteField = "tier"
	FieldMonster    VoteField = "monster_name"
	FieldFastMove   VoteField = "fast_move"
	FieldChargeMove VoteField = "charge_move"
	FieldStartAt    VoteField = "start_at"
)

// VoteFields lists every voteable field in tally order.
func VoteFields() []VoteField {
	return []VoteField{FieldTier, FieldMonster, FieldFastMove, FieldChargeMove, FieldStartAt}
}

func (f VoteField) Valid() bool {
	switch f {
	case FieldTier, FieldMonster, FieldFastMove, FieldChargeMove, FieldStartAt:
		return true
	}
	return false
}

// DataSource is an authenticated machine integration. Votes carrying a
// data source are authoritative over crowd votes.
type DataSource struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"size:255"`
	APIKey    string `gorm:"size:64;uniqueIndex"`
	CreatedAt time.Time
}

type Gym struct {
	ID        uint64          `gorm:"primaryKey"`
	Name      string          `gorm:"size:255"`
	PogoID    string          `gorm:"size:64;uniqueIndex"`
	Latitude  decimal.Decimal `gorm:"type:decimal(9,6)"`
	Longitude decimal.Decimal `gorm:"type:decimal(9,6)"`
	ImageURL  string          `gorm:"size:512"`
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GymNickname is an alternate search name for a gym.
type GymNickname struct {
	ID       uint64 `gorm:"primaryKey"`
	GymID    uint64 `gorm:"index"`
	Nickname string `gorm:"size:255"`
}

// RaidType is one administratively managed boss catalog entry.
type RaidType struct {
	ID            uint64 `gorm:"primaryKey"`
	Tier          int
	MonsterName   string `gorm:"size:255;index"`
	MonsterNumber *int
	ImageURL      string `gorm:"size:512"`
	Priority      int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (rt *RaidType) TierDisplay() string {
	return TierDisplay(&rt.Tier)
}

// EditableSettings is one timed settings snapshot: a recognized boss
// list and the notification rules, both stored as JSON documents.
type EditableSettings struct {
	ID                uint64    `gorm:"primaryKey"`
	RaidTypesJSON     string    `gorm:"type:text"`
	NotificationsJSON string    `gorm:"type:text"`
	ExpiresAt         time.Time `gorm:"index"`
	CreatedAt         time.Time
}

// SettingsRaidType is one boss entry inside a settings snapshot.
type SettingsRaidType struct {
	Tier    int    `json:"tier"`
	Monster string `json:"monster"`
}

// NotificationRule routes matching raids to one webhook destination.
// A nil Monster or Tier filter matches every raid.
type NotificationRule struct {
	Service string  `json:"service"`
	Webhook string  `json:"webhook"`
	Channel string  `json:"channel"`
	Monster *string `json:"monster"`
	Tier    *int    `json:"tier"`
}

// Raid is the single active raid of a gym. All voteable values on it
// are derived from the vote table by the tally; editing them directly
// only lasts until the next re-aggregation.
type Raid struct {
	ID             uint64 `gorm:"primaryKey"`
	GymID          uint64 `gorm:"uniqueIndex"`
	Gym            Gym
	RaidTypeID     *uint64
	Tier           *int
	MonsterName    string `gorm:"size:255"`
	MonsterNumber  *int
	FastMove       string `gorm:"size:255"`
	ChargeMove     string `gorm:"size:255"`
	StartAt        *time.Time
	EndAt          *time.Time
	UnverifiedText string `gorm:"size:64"`
	Submitter      string `gorm:"size:64"`
	DataSourceID   *uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EncodedFieldValue returns the raid's stored value for a field in the
// same string encoding votes use, so votes and stored state compare
// directly.
func (r *Raid) EncodedFieldValue(field VoteField) string {
	switch field {
	case FieldTier:
		if r.Tier == nil {
			return ""
		}
		return strconv.Itoa(*r.Tier)
	case FieldMonster:
		return r.MonsterName
	case FieldFastMove:
		return r.FastMove
	case FieldChargeMove:
		return r.ChargeMove
	case FieldStartAt:
		if r.StartAt == nil {
			return ""
		}
		return strconv.FormatInt(r.StartAt.UTC().Unix(), 10)
	}
	return ""
}

func (r *Raid) HasStarted(now time.Time) bool {
	return r.StartAt != nil && !now.Before(*r.StartAt)
}

func (r *Raid) TimeLeftUntilStart(now time.Time) *time.Duration {
	if r.StartAt == nil || !r.StartAt.After(now) {
		return nil
	}
	d := r.StartAt.Sub(now)
	return &d
}

func (r *Raid) TimeLeftUntilEnd(now time.Time) *time.Duration {
	if r.EndAt == nil || !r.EndAt.After(now) {
		return nil
	}
	d := r.EndAt.Sub(now)
	return &d
}

func (r *Raid) TimeLeftUntilStartDisplay(now time.Time) string {
	if d := r.TimeLeftUntilStart(now); d != nil {
		return FormatDuration(*d)
	}
	return EnDash
}

func (r *Raid) TimeLeftUntilEndDisplay(now time.Time) string {
	if d := r.TimeLeftUntilEnd(now); d != nil {
		return FormatDuration(*d)
	}
	return EnDash
}

func (r *Raid) TierDisplay() string {
	return TierDisplay(r.Tier)
}

// StartTimeChoices lists the candidate battle start times attendees can
// commit to: the raw hatch time, then even times at ten-minute steps
// through the battle window. The first even time skips ahead when the
// hatch lands in the latter half of a ten-minute slot, so nobody is
// asked to arrive almost immediately.
func (r *Raid) StartTimeChoices() []time.Time {
	if r.StartAt == nil {
		return nil
	}
	start := r.StartAt.Truncate(time.Minute)

	remainder := start.Minute() % 10
	offset := 10 - remainder
	if remainder > 5 {
		offset = 15 - remainder
	}
	rounded := start.Add(time.Duration(offset) * time.Minute)

	choices := []time.Time{*r.StartAt, rounded}
	minutesInRaid := int(RaidBattleDuration / time.Minute)
	for minutes := 10; minutes <= minutesInRaid-10; minutes += 10 {
		choices = append(choices, rounded.Add(time.Duration(minutes)*time.Minute))
	}
	return choices
}

// RaidVote is one field assertion by one submitter or data source.
type RaidVote struct {
	ID           uint64    `gorm:"primaryKey"`
	RaidID       uint64    `gorm:"index"`
	VoteField    VoteField `gorm:"size:32;index"`
	VoteValue    string    `gorm:"size:255"`
	Submitter    string    `gorm:"size:64"`
	DataSourceID *uint64
	CreatedAt    time.Time
}

// Attendance is one submitter's commitment to one start-time choice of
// one raid.
type Attendance struct {
	ID              uint64 `gorm:"primaryKey"`
	RaidID          uint64 `gorm:"uniqueIndex:idx_attendance_raid_submitter"`
	Submitter       string `gorm:"size:64;uniqueIndex:idx_attendance_raid_submitter"`
	StartTimeChoice int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InfoBox is the single administratively edited announcement shown on
// the raid list.
type InfoBox struct {
	ID      uint64 `gorm:"primaryKey"`
	Content string `gorm:"type:text"`
}

// TierDisplay renders a tier as its display glyphs: stars for normal
// tiers, the section mark for tier four, a dash when unknown or
// outside the 1–5 range.
func TierDisplay(tier *int) string {
	if tier == nil || *tier < 1 || *tier > 5 {
		return EnDash
	}
	if *tier == 4 {
		return "§"
	}
	return strings.Repeat("★", *tier)
}

// FormatDuration renders a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
