// Package raids owns the raid lifecycle: creation, vote re-aggregation,
// derived-field computation, expiry sweep and persistence side effects.
package raids

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/raidikalu/raidikalu/src/bestiary"
	"github.com/raidikalu/raidikalu/src/settings"
	"github.com/raidikalu/raidikalu/src/types"
	"github.com/raidikalu/raidikalu/src/votes"
)

// SaveHook runs synchronously after a raid has been persisted, in
// registration order. Hooks must not fail the save; they log their own
// errors.
type SaveHook func(ctx context.Context, raid *types.Raid, created bool)

type Service struct {
	db       *gorm.DB
	settings *settings.Resolver
	hooks    []SaveHook
}

func NewService(db *gorm.DB, resolver *settings.Resolver) *Service {
	return &Service{db: db, settings: resolver}
}

// AddSaveHook appends a post-save hook. Call during wiring, before the
// service handles requests.
func (s *Service) AddSaveHook(hook SaveHook) {
	s.hooks = append(s.hooks, hook)
}

func (s *Service) DB() *gorm.DB { return s.db }

// Save runs the full save pipeline for a raid: resolve the raid type
// and tier from the boss name, recompute derived fields, sweep every
// expired raid in the table, persist, then run the post-save hooks.
func (s *Service) Save(ctx context.Context, raid *types.Raid, created bool) error {
	now := time.Now()

	s.resolveRaidType(ctx, raid)

	if raid.StartAt != nil {
		endAt := raid.StartAt.Add(types.RaidBattleDuration)
		raid.EndAt = &endAt
	} else {
		raid.EndAt = nil
	}

	if raid.MonsterName != "" {
		if number, ok := bestiary.NumberByName(raid.MonsterName); ok {
			raid.MonsterNumber = &number
		}
	}

	if err := s.updateUnverifiedText(raid); err != nil {
		return err
	}

	if err := s.SweepExpired(now); err != nil {
		return err
	}

	if err := s.db.Omit(clause.Associations).Save(raid).Error; err != nil {
		return err
	}

	for _, hook := range s.hooks {
		hook(ctx, raid, created)
	}
	return nil
}

// SweepExpired deletes every raid whose end time has passed, along with
// its votes and attendances. It runs as part of every save; there is no
// background sweeper.
func (s *Service) SweepExpired(now time.Time) error {
	var expired []uint64
	err := s.db.Model(&types.Raid{}).
		Where("end_at IS NOT NULL AND end_at < ?", now).
		Pluck("id", &expired).Error
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	if err := s.db.Where("raid_id IN ?", expired).Delete(&types.RaidVote{}).Error; err != nil {
		return err
	}
	if err := s.db.Where("raid_id IN ?", expired).Delete(&types.Attendance{}).Error; err != nil {
		return err
	}
	return s.db.Where("id IN ?", expired).Delete(&types.Raid{}).Error
}

// CountVotesAndUpdate re-tallies every voteable field, applies the
// winning values onto the raid and saves it. This is the single
// re-aggregation entry point invoked after every recorded vote.
func (s *Service) CountVotesAndUpdate(ctx context.Context, raid *types.Raid, created bool) error {
	if value, ok, err := votes.TopValue(s.db, raid.ID, types.FieldTier); err != nil {
		return err
	} else if ok {
		if tier, err := strconv.Atoi(value); err == nil {
			raid.Tier = &tier
		} else {
			log.Printf("raids: non-numeric tier vote %q for raid %d", value, raid.ID)
		}
	}

	if value, ok, err := votes.TopValue(s.db, raid.ID, types.FieldMonster); err != nil {
		return err
	} else if ok {
		raid.MonsterName = value
	}

	if value, ok, err := votes.TopValue(s.db, raid.ID, types.FieldFastMove); err != nil {
		return err
	} else if ok {
		raid.FastMove = value
	}

	if value, ok, err := votes.TopValue(s.db, raid.ID, types.FieldChargeMove); err != nil {
		return err
	} else if ok {
		raid.ChargeMove = value
	}

	if value, ok, err := votes.TopValue(s.db, raid.ID, types.FieldStartAt); err != nil {
		return err
	} else if ok {
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			startAt := time.Unix(seconds, 0)
			raid.StartAt = &startAt
		} else {
			log.Printf("raids: non-numeric start time vote %q for raid %d", value, raid.ID)
		}
	}

	return s.Save(ctx, raid, created)
}

// GetOrCreateRaid returns the gym's active raid, creating it when none
// exists. At most one raid per gym: a loser of the creation race
// catches the uniqueness violation, logs it and returns the existing
// raid unchanged.
func (s *Service) GetOrCreateRaid(ctx context.Context, gym *types.Gym) (*types.Raid, bool, error) {
	var raid types.Raid
	err := s.db.Where("gym_id = ?", gym.ID).First(&raid).Error
	if err == nil {
		raid.Gym = *gym
		return &raid, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	raid = types.Raid{GymID: gym.ID}
	if err := s.db.Omit(clause.Associations).Create(&raid).Error; err != nil {
		log.Printf("raids: duplicate raid for gym %d: %v", gym.ID, err)
		if err := s.db.Where("gym_id = ?", gym.ID).First(&raid).Error; err != nil {
			return nil, false, err
		}
		raid.Gym = *gym
		return &raid, false, nil
	}
	raid.Gym = *gym
	return &raid, true, nil
}

func (s *Service) resolveRaidType(ctx context.Context, raid *types.Raid) {
	if raid.RaidTypeID != nil {
		var raidType types.RaidType
		if err := s.db.First(&raidType, *raid.RaidTypeID).Error; err == nil {
			raid.Tier = &raidType.Tier
			raid.MonsterName = raidType.MonsterName
			return
		}
	}
	if raid.MonsterName == "" {
		return
	}

	var raidType types.RaidType
	err := s.db.Where("monster_name = ? AND is_active = ?", raid.MonsterName, true).
		Order("tier DESC, priority DESC").
		First(&raidType).Error
	if err == nil {
		raid.RaidTypeID = &raidType.ID
		raid.Tier = &raidType.Tier
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("raids: raid type lookup failed for %q: %v", raid.MonsterName, err)
		return
	}

	// No typed catalog entry; fall back to the boss list in the current
	// settings snapshot.
	if tier, ok, err := s.settings.BossTier(ctx, raid.MonsterName); err != nil {
		log.Printf("raids: settings lookup failed for %q: %v", raid.MonsterName, err)
	} else if ok {
		raid.Tier = &tier
		return
	}
	log.Printf("raids: could not find raid type for %q", raid.MonsterName)
}

// updateUnverifiedText refreshes the short note shown while a raid's
// existence or boss has not reached the confidence threshold yet.
func (s *Service) updateUnverifiedText(raid *types.Raid) error {
	monsterConfidence, err := votes.Confidence(s.db, raid, types.FieldMonster)
	if err != nil {
		return err
	}
	tierConfidence, err := votes.Confidence(s.db, raid, types.FieldTier)
	if err != nil {
		return err
	}
	monsterUnverified := monsterConfidence < 3
	tierUnverified := tierConfidence < 3
	switch {
	case monsterUnverified && tierUnverified:
		raid.UnverifiedText = "raid existence"
	case monsterUnverified:
		raid.UnverifiedText = "raid boss"
	default:
		raid.UnverifiedText = ""
	}
	return nil
}

// Vote is one field assertion inside a report.
type Vote struct {
	Field types.VoteField
	Value string
}

// Report is an inbound field report: the web submission form and the
// authenticated receiver API both funnel through it, differing only in
// which identity they attach.
type Report struct {
	Gym       *types.Gym
	Votes     []Vote
	Submitter string
	Source    *types.DataSource
}

// SubmitReport converts a report into votes, re-tallies and saves the
// gym's raid, and returns the updated raid snapshot.
func (s *Service) SubmitReport(ctx context.Context, report Report) (*types.Raid, error) {
	raid, created, err := s.GetOrCreateRaid(ctx, report.Gym)
	if err != nil {
		return nil, err
	}
	if created {
		// First-writer-wins identity on the raid itself.
		raid.Submitter = report.Submitter
		if report.Source != nil {
			raid.DataSourceID = &report.Source.ID
		}
	}

	for _, vote := range report.Votes {
		if !vote.Field.Valid() {
			continue
		}
		if report.Source != nil {
			// One vote per (raid, source, field); the first submission
			// from a source sticks.
			var existing types.RaidVote
			err := s.db.Where("raid_id = ? AND data_source_id = ? AND vote_field = ?",
				raid.ID, report.Source.ID, vote.Field).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			row := types.RaidVote{
				RaidID:       raid.ID,
				VoteField:    vote.Field,
				VoteValue:    vote.Value,
				DataSourceID: &report.Source.ID,
			}
			if err := s.db.Create(&row).Error; err != nil {
				return nil, err
			}
			continue
		}
		row := types.RaidVote{
			RaidID:    raid.ID,
			Submitter: report.Submitter,
			VoteField: vote.Field,
			VoteValue: vote.Value,
		}
		if err := s.db.Create(&row).Error; err != nil {
			return nil, err
		}
	}

	if err := s.CountVotesAndUpdate(ctx, raid, created); err != nil {
		return nil, err
	}
	return raid, nil
}

// ExportPending lists raids the given data source has not acknowledged
// yet. A raid counts as acknowledged once a boss-name vote from that
// source exists for it.
func (s *Service) ExportPending(ctx context.Context, source *types.DataSource) ([]types.Raid, error) {
	acknowledged := s.db.Model(&types.RaidVote{}).
		Select("raid_id").
		Where("data_source_id = ? AND vote_field = ?", source.ID, types.FieldMonster)

	var raids []types.Raid
	err := s.db.Preload("Gym").
		Where("id NOT IN (?)", acknowledged).
		Find(&raids).Error
	if err != nil {
		return nil, err
	}
	return raids, nil
}

// ActiveRaids lists raids that have not ended, soonest start first,
// with gyms preloaded.
func (s *Service) ActiveRaids(ctx context.Context) ([]types.Raid, error) {
	var raids []types.Raid
	err := s.db.Preload("Gym").
		Where("end_at IS NULL OR end_at > ?", time.Now()).
		Order("start_at ASC").
		Find(&raids).Error
	if err != nil {
		return nil, err
	}
	return raids, nil
}

// ActiveRaidTypes lists the administratively managed boss catalog in
// display order.
func (s *Service) ActiveRaidTypes(ctx context.Context) ([]types.RaidType, error) {
	var raidTypes []types.RaidType
	err := s.db.Where("is_active = ?", true).
		Order("tier DESC, priority DESC").
		Find(&raidTypes).Error
	if err != nil {
		return nil, err
	}
	return raidTypes, nil
}

// SaveRaidType fills in the dex number from the bestiary and persists a
// catalog entry.
func (s *Service) SaveRaidType(ctx context.Context, raidType *types.RaidType) error {
	if number, ok := bestiary.NumberByName(raidType.MonsterName); ok {
		raidType.MonsterNumber = &number
	}
	return s.db.Save(raidType).Error
}

// GetRaid loads one raid with its gym.
func (s *Service) GetRaid(ctx context.Context, id uint64) (*types.Raid, error) {
	var raid types.Raid
	if err := s.db.Preload("Gym").First(&raid, id).Error; err != nil {
		return nil, err
	}
	return &raid, nil
}
