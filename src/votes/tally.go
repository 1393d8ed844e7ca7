// Package votes turns competing raid votes into a single best value per
// field plus a signed confidence score. Authenticated data sources are
// authoritative: their latest vote wins outright and saturates
// confidence. Crowd votes fall back to plurality with a recency
// tie-break.
package votes

import (
	"errors"

	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/types"
)

// ConfidenceMax is the sentinel score once any credentialed vote exists.
const ConfidenceMax = 100

// TopValue computes the current best value for one field of one raid.
// If any vote on the field carries a data source, the most recently
// created such vote wins. Otherwise the plurality value wins, ties
// broken by the most recent vote among the tied values. No votes at
// all returns ok=false.
func TopValue(db *gorm.DB, raidID uint64, field types.VoteField) (string, bool, error) {
	var latest types.RaidVote
	err := db.
		Where("raid_id = ? AND vote_field = ? AND data_source_id IS NOT NULL", raidID, field).
		Order("created_at DESC, id DESC").
		First(&latest).Error
	if err == nil {
		return latest.VoteValue, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	var top struct {
		VoteValue string
		Votes     int64
	}
	res := db.Model(&types.RaidVote{}).
		Select("vote_value, COUNT(*) AS votes, MAX(created_at) AS newest").
		Where("raid_id = ? AND vote_field = ?", raidID, field).
		Group("vote_value").
		Order("votes DESC, newest DESC").
		Limit(1).
		Scan(&top)
	if res.Error != nil {
		return "", false, res.Error
	}
	if res.RowsAffected == 0 {
		return "", false, nil
	}
	return top.VoteValue, true, nil
}

// Confidence scores how sure we are about the raid's currently stored
// value for a field. Any credentialed vote saturates the score at
// ConfidenceMax. Otherwise each distinct submitter gets one counted
// vote (their earliest); agreement with the stored value adds one,
// disagreement subtracts one. The net score may be negative.
func Confidence(db *gorm.DB, raid *types.Raid, field types.VoteField) (int, error) {
	var credentialed int64
	err := db.Model(&types.RaidVote{}).
		Where("raid_id = ? AND vote_field = ? AND data_source_id IS NOT NULL", raid.ID, field).
		Count(&credentialed).Error
	if err != nil {
		return 0, err
	}
	if credentialed > 0 {
		return ConfidenceMax, nil
	}

	var all []types.RaidVote
	err = db.
		Where("raid_id = ? AND vote_field = ?", raid.ID, field).
		Order("created_at ASC, id ASC").
		Find(&all).Error
	if err != nil {
		return 0, err
	}

	current := raid.EncodedFieldValue(field)
	confidence := 0
	counted := make(map[string]struct{}, len(all))
	for _, vote := range all {
		// One vote per submitter, one for anonymous.
		if _, seen := counted[vote.Submitter]; seen {
			continue
		}
		counted[vote.Submitter] = struct{}{}
		if vote.VoteValue == current {
			confidence++
		} else {
			confidence--
		}
	}
	return confidence, nil
}
