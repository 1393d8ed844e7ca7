package raids

import (
	"context"
	"time"

	"github.com/raidikalu/raidikalu/src/types"
)

// StartTimeSlot groups the attendees committed to one start-time
// choice.
type StartTimeSlot struct {
	Time        time.Time
	Attendances []types.Attendance
}

// RaidContext is a raid plus its per-slot attendee state, as rendered
// into the list view and the broadcast snippet.
type RaidContext struct {
	Raid            *types.Raid
	Slots           []StartTimeSlot
	AttendanceCount int
	// OwnChoice is the viewer's committed slot index, nil when the
	// viewer has no commitment or no nickname was given.
	OwnChoice *int
}

// RaidContext assembles the attendee state for one raid.
func (s *Service) RaidContext(ctx context.Context, raid *types.Raid, nickname string) (*RaidContext, error) {
	var attendances []types.Attendance
	err := s.db.Where("raid_id = ?", raid.ID).Order("created_at ASC").Find(&attendances).Error
	if err != nil {
		return nil, err
	}

	rc := &RaidContext{Raid: raid, AttendanceCount: len(attendances)}
	for choiceIndex, choiceTime := range raid.StartTimeChoices() {
		slot := StartTimeSlot{Time: choiceTime}
		for _, attendance := range attendances {
			if attendance.StartTimeChoice != choiceIndex {
				continue
			}
			slot.Attendances = append(slot.Attendances, attendance)
			if nickname != "" && attendance.Submitter == nickname {
				index := choiceIndex
				rc.OwnChoice = &index
			}
		}
		rc.Slots = append(rc.Slots, slot)
	}
	return rc, nil
}
