package raids

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raidikalu/raidikalu/src/types"
)

func startedRaid(t *testing.T, svc *Service) *types.Raid {
	t.Helper()
	gym := createGym(t, svc.DB(), "g1")
	start := time.Now().Add(10 * time.Minute)
	raid := &types.Raid{GymID: gym.ID, StartAt: &start}
	if err := svc.Save(context.Background(), raid, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raid.Gym = *gym
	return raid
}

func TestSetAttendanceUpserts(t *testing.T) {
	svc, db := newTestService(t)
	raid := startedRaid(t, svc)
	ctx := context.Background()

	first, err := svc.SetAttendance(ctx, raid, "ash", 1)
	if err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}
	second, err := svc.SetAttendance(ctx, raid, "ash", 2)
	if err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("got row %d, want the original row %d updated", second.ID, first.ID)
	}
	if second.StartTimeChoice != 2 {
		t.Fatalf("got choice %d, want 2", second.StartTimeChoice)
	}

	var count int64
	db.Model(&types.Attendance{}).Where("raid_id = ?", raid.ID).Count(&count)
	if count != 1 {
		t.Fatalf("got %d rows, want one per submitter", count)
	}
}

func TestSetAttendanceRejectsBadChoice(t *testing.T) {
	svc, _ := newTestService(t)
	raid := startedRaid(t, svc)
	ctx := context.Background()

	choices := raid.StartTimeChoices()
	if _, err := svc.SetAttendance(ctx, raid, "ash", len(choices)); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("got %v, want ErrInvalidChoice", err)
	}
	if _, err := svc.SetAttendance(ctx, raid, "ash", -1); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("got %v, want ErrInvalidChoice", err)
	}
}

func TestCancelAttendance(t *testing.T) {
	svc, db := newTestService(t)
	raid := startedRaid(t, svc)
	ctx := context.Background()

	if _, err := svc.CancelAttendance(ctx, raid, "ash"); !errors.Is(err, ErrNotAttending) {
		t.Fatalf("got %v, want ErrNotAttending", err)
	}

	if _, err := svc.SetAttendance(ctx, raid, "ash", 1); err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}
	cancelled, err := svc.CancelAttendance(ctx, raid, "ash")
	if err != nil {
		t.Fatalf("CancelAttendance: %v", err)
	}
	if cancelled.Submitter != "ash" {
		t.Fatalf("got %q, want the deleted row returned", cancelled.Submitter)
	}

	var count int64
	db.Model(&types.Attendance{}).Where("raid_id = ?", raid.ID).Count(&count)
	if count != 0 {
		t.Fatalf("got %d rows after cancel, want none", count)
	}
}

func TestRaidContext(t *testing.T) {
	svc, _ := newTestService(t)
	raid := startedRaid(t, svc)
	ctx := context.Background()

	if _, err := svc.SetAttendance(ctx, raid, "ash", 1); err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}
	if _, err := svc.SetAttendance(ctx, raid, "misty", 1); err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}
	if _, err := svc.SetAttendance(ctx, raid, "brock", 3); err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}

	rc, err := svc.RaidContext(ctx, raid, "brock")
	if err != nil {
		t.Fatalf("RaidContext: %v", err)
	}
	if rc.AttendanceCount != 3 {
		t.Fatalf("got %d attendees, want 3", rc.AttendanceCount)
	}
	if len(rc.Slots) != len(raid.StartTimeChoices()) {
		t.Fatalf("got %d slots, want one per choice", len(rc.Slots))
	}
	if len(rc.Slots[1].Attendances) != 2 {
		t.Fatalf("got %d attendees in slot 1, want 2", len(rc.Slots[1].Attendances))
	}
	if rc.OwnChoice == nil || *rc.OwnChoice != 3 {
		t.Fatalf("got own choice %v, want 3", rc.OwnChoice)
	}

	anonymous, err := svc.RaidContext(ctx, raid, "")
	if err != nil {
		t.Fatalf("RaidContext: %v", err)
	}
	if anonymous.OwnChoice != nil {
		t.Fatal("own choice should stay unset without a nickname")
	}
}
