package raids

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/types"
)

var (
	// ErrInvalidChoice rejects a start-time choice outside the raid's
	// candidate list. Nothing is mutated.
	ErrInvalidChoice = errors.New("start time choice out of range")
	// ErrNotAttending rejects a cancel for a submitter with no
	// commitment. Deliberately distinct from ErrInvalidChoice.
	ErrNotAttending = errors.New("no attendance to cancel")
)

// SetAttendance commits a submitter to one of the raid's start-time
// choices, upserting on the (raid, submitter) unique key.
func (s *Service) SetAttendance(ctx context.Context, raid *types.Raid, submitter string, choice int) (*types.Attendance, error) {
	choices := raid.StartTimeChoices()
	if choice < 0 || choice >= len(choices) {
		return nil, ErrInvalidChoice
	}

	var attendance types.Attendance
	err := s.db.Where("raid_id = ? AND submitter = ?", raid.ID, submitter).First(&attendance).Error
	if err == nil {
		attendance.StartTimeChoice = choice
		if err := s.db.Save(&attendance).Error; err != nil {
			return nil, err
		}
		return &attendance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	attendance = types.Attendance{RaidID: raid.ID, Submitter: submitter, StartTimeChoice: choice}
	if err := s.db.Create(&attendance).Error; err != nil {
		// Race loser on the unique key; the row exists now, update it.
		if err := s.db.Where("raid_id = ? AND submitter = ?", raid.ID, submitter).First(&attendance).Error; err != nil {
			return nil, err
		}
		attendance.StartTimeChoice = choice
		if err := s.db.Save(&attendance).Error; err != nil {
			return nil, err
		}
	}
	return &attendance, nil
}

// CancelAttendance removes a submitter's commitment. Returns the
// deleted row so the caller can broadcast the change.
func (s *Service) CancelAttendance(ctx context.Context, raid *types.Raid, submitter string) (*types.Attendance, error) {
	var attendance types.Attendance
	err := s.db.Where("raid_id = ? AND submitter = ?", raid.ID, submitter).First(&attendance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotAttending
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.Delete(&attendance).Error; err != nil {
		return nil, err
	}
	return &attendance, nil
}
