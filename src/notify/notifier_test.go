package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/raidikalu/raidikalu/src/data"
	"github.com/raidikalu/raidikalu/src/settings"
	"github.com/raidikalu/raidikalu/src/types"
)

type webhookRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (w *webhookRecorder) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.mu.Lock()
		w.bodies = append(w.bodies, string(body))
		w.mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}
}

func (w *webhookRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}

func testNotifier(t *testing.T, rulesJSON string) (*Notifier, *gorm.DB) {
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
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	row := types.EditableSettings{NotificationsJSON: rulesJSON, ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create settings: %v", err)
	}
	return New(db, rdb, settings.NewResolver(db, rdb)), db
}

func confidentRaid(t *testing.T, db *gorm.DB, boss string) *types.Raid {
	t.Helper()
	raid := types.Raid{MonsterName: boss}
	if err := db.Create(&raid).Error; err != nil {
		t.Fatalf("create raid: %v", err)
	}
	base := time.Now().Add(-time.Minute)
	for i, submitter := range []string{"ash", "misty", "brock"} {
		vote := types.RaidVote{
			RaidID:    raid.ID,
			VoteField: types.FieldMonster,
			VoteValue: boss,
			Submitter: submitter,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&vote).Error; err != nil {
			t.Fatalf("create vote: %v", err)
		}
	}
	return &raid
}

func TestNotifyRaidDeliversOnce(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	rules := fmt.Sprintf(`[{"service":"","webhook":"%s","channel":"#raids"}]`, server.URL)
	n, db := testNotifier(t, rules)
	raid := confidentRaid(t, db, "Absol")
	ctx := context.Background()

	n.NotifyRaid(ctx, raid)
	if rec.count() != 1 {
		t.Fatalf("got %d deliveries, want 1", rec.count())
	}

	// A second save of the same raid must not notify again.
	n.NotifyRaid(ctx, raid)
	if rec.count() != 1 {
		t.Fatalf("got %d deliveries after repeat, want 1", rec.count())
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(rec.bodies[0]), &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["channel"] != "#raids" {
		t.Fatalf("got channel %v, want #raids", payload["channel"])
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "Absol") {
		t.Fatalf("got text %q, want the boss name in it", text)
	}
}

func TestNotifyRaidBelowThreshold(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	rules := fmt.Sprintf(`[{"service":"","webhook":"%s"}]`, server.URL)
	n, db := testNotifier(t, rules)

	raid := types.Raid{MonsterName: "Absol"}
	if err := db.Create(&raid).Error; err != nil {
		t.Fatalf("create raid: %v", err)
	}
	for _, submitter := range []string{"ash", "misty"} {
		vote := types.RaidVote{RaidID: raid.ID, VoteField: types.FieldMonster, VoteValue: "Absol", Submitter: submitter}
		if err := db.Create(&vote).Error; err != nil {
			t.Fatalf("create vote: %v", err)
		}
	}

	n.NotifyRaid(context.Background(), &raid)
	if rec.count() != 0 {
		t.Fatalf("got %d deliveries below the threshold, want none", rec.count())
	}
}

func TestNotifyRaidRuleFilters(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	rules := fmt.Sprintf(`[
		{"service":"","webhook":"%s","channel":"#absol","monster":"Absol"},
		{"service":"","webhook":"%s","channel":"#mawile","monster":"Mawile"}
	]`, server.URL, server.URL)
	n, db := testNotifier(t, rules)
	raid := confidentRaid(t, db, "Absol")

	n.NotifyRaid(context.Background(), raid)
	if rec.count() != 1 {
		t.Fatalf("got %d deliveries, want only the matching rule to fire", rec.count())
	}
}

func TestNotifyRaidDestinationDedup(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	// Two rules resolving to the same destination plus one distinct one.
	rules := fmt.Sprintf(`[
		{"service":"","webhook":"%s","channel":"#raids"},
		{"service":"","webhook":"%s","channel":"#raids","monster":"Absol"},
		{"service":"","webhook":"%s","channel":"#other"}
	]`, server.URL, server.URL, server.URL)
	n, db := testNotifier(t, rules)
	raid := confidentRaid(t, db, "Absol")

	n.NotifyRaid(context.Background(), raid)
	if rec.count() != 2 {
		t.Fatalf("got %d deliveries, want one per distinct destination", rec.count())
	}
}

func TestParseDiscordWebhook(t *testing.T) {
	id, token, ok := parseDiscordWebhook("https://discord.com/api/webhooks/1234/abcd")
	if !ok || id != "1234" || token != "abcd" {
		t.Fatalf("got id=%q token=%q ok=%v", id, token, ok)
	}
	if _, _, ok := parseDiscordWebhook("https://discordapp.com/api/webhooks/1/t"); !ok {
		t.Fatal("legacy discordapp.com host should parse")
	}
	if _, _, ok := parseDiscordWebhook("https://hooks.slack.com/services/T/B/x"); ok {
		t.Fatal("non-Discord URL should not parse")
	}
	if _, _, ok := parseDiscordWebhook("https://discord.com/api/other/1/t"); ok {
		t.Fatal("non-webhook Discord path should not parse")
	}
}
