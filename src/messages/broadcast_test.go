package messages

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/raidikalu/raidikalu/src/data"
	"github.com/raidikalu/raidikalu/src/raids"
	"github.com/raidikalu/raidikalu/src/settings"
	"github.com/raidikalu/raidikalu/src/types"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testService(t *testing.T) *raids.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := data.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return raids.NewService(db, settings.NewResolver(db, nil))
}

func TestPublishPayloadShape(t *testing.T) {
	rdb := testRedis(t)
	pub := NewPublisher(rdb)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, BroadcastChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := pub.Publish(ctx, "raid", "Raidi 1 lisätty", map[string]any{"raid": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var payload struct {
			Event   string         `json:"event"`
			Message string         `json:"message"`
			Data    map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if payload.Event != "raid" || payload.Message != "Raidi 1 lisätty" {
			t.Fatalf("got event=%q message=%q", payload.Event, payload.Message)
		}
		if payload.Data["raid"] != float64(1) {
			t.Fatalf("got data %v", payload.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestRaidUpdatedData(t *testing.T) {
	rdb := testRedis(t)
	pub := NewPublisher(rdb)

	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	end := start.Add(types.RaidBattleDuration)
	tier := 5
	raid := &types.Raid{
		ID:          7,
		Gym:         types.Gym{Name: "Tuomiokirkko"},
		MonsterName: "Mewtwo",
		Tier:        &tier,
		StartAt:     &start,
		EndAt:       &end,
	}

	data := pub.RaidUpdated(context.Background(), raid, true)
	if data["gym"] != "Tuomiokirkko" || data["monster"] != "Mewtwo" {
		t.Fatalf("got %v", data)
	}
	if data["pokemon"] != data["monster"] {
		t.Fatal("legacy pokemon key should mirror monster")
	}
	if data["start"] != start.Unix() || data["end"] != end.Unix() {
		t.Fatalf("got start=%v end=%v", data["start"], data["end"])
	}
	if data["created"] != true {
		t.Fatal("created flag should pass through")
	}
}

func TestAttendanceUpdatedSnippet(t *testing.T) {
	rdb := testRedis(t)
	pub := NewPublisher(rdb)
	svc := testService(t)
	ctx := context.Background()

	gym := types.Gym{Name: "Kauppatori", PogoID: "g1", IsActive: true}
	if err := svc.DB().Create(&gym).Error; err != nil {
		t.Fatalf("create gym: %v", err)
	}
	start := time.Now().Add(10 * time.Minute)
	raid := &types.Raid{GymID: gym.ID, StartAt: &start}
	if err := svc.Save(ctx, raid, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raid.Gym = gym

	attendance, err := svc.SetAttendance(ctx, raid, "ash", 1)
	if err != nil {
		t.Fatalf("SetAttendance: %v", err)
	}

	data, err := pub.AttendanceUpdated(ctx, svc, raid, attendance, false)
	if err != nil {
		t.Fatalf("AttendanceUpdated: %v", err)
	}
	snippet, _ := data["snippet"].(string)
	if !strings.Contains(snippet, "ash") {
		t.Fatalf("snippet %q should list the attendee", snippet)
	}
	if !strings.Contains(snippet, "Kauppatori") {
		t.Fatalf("snippet %q should name the gym", snippet)
	}
	wantTime := raid.StartTimeChoices()[1].Format("15:04")
	if data["time"] != wantTime {
		t.Fatalf("got time %v, want %s", data["time"], wantTime)
	}
	if data["choice"] != 1 {
		t.Fatalf("got choice %v, want 1", data["choice"])
	}

	cancelled, err := pub.AttendanceUpdated(ctx, svc, raid, attendance, true)
	if err != nil {
		t.Fatalf("AttendanceUpdated: %v", err)
	}
	if cancelled["choice"] != nil || cancelled["time"] != nil {
		t.Fatalf("cancel payload should carry no slot, got %v", cancelled)
	}
}
