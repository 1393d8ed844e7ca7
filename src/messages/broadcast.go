// Package messages publishes structured change events to the shared
// broadcast group that every live viewer connection subscribes to.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raidikalu/raidikalu/src/raids"
	"github.com/raidikalu/raidikalu/src/types"
)

// BroadcastChannel is the single well-known group name all live viewer
// connections join.
const BroadcastChannel = "raidikalu"

type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish serializes {event, message, data} compactly and sends it to
// the broadcast group. Best-effort: no acknowledgement, no per-client
// backpressure.
func (p *Publisher) Publish(ctx context.Context, event, message string, data any) error {
	payload, err := json.Marshal(map[string]any{
		"event":   event,
		"message": message,
		"data":    data,
	})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, BroadcastChannel, payload).Err()
}

// RaidUpdated broadcasts a raid save to live viewers.
func (p *Publisher) RaidUpdated(ctx context.Context, raid *types.Raid, created bool) map[string]any {
	var message string
	if created {
		message = fmt.Sprintf("Raidi %d lisätty", raid.ID)
	} else {
		message = fmt.Sprintf("Raidi %d päivitetty", raid.ID)
	}
	data := map[string]any{
		"raid": raid.ID,
		"gym":  raid.Gym.Name,
		// Backwards compatibility for older list clients.
		"pokemon": raid.MonsterName,
		"monster": raid.MonsterName,
		"tier":    raid.Tier,
		"lat":     raid.Gym.Latitude.String(),
		"lng":     raid.Gym.Longitude.String(),
		"start":   epochOrNil(raid.StartAt),
		"end":     epochOrNil(raid.EndAt),
		"created": created,
	}
	if err := p.Publish(ctx, "raid", message, data); err != nil {
		log.Printf("messages: raid broadcast failed: %v", err)
	}
	return data
}

// AttendanceUpdated broadcasts an attendance change, including a
// freshly rendered snippet of the raid's attendee state, and returns
// the payload for the originating request's response.
func (p *Publisher) AttendanceUpdated(ctx context.Context, svc *raids.Service, raid *types.Raid, attendance *types.Attendance, cancelled bool) (map[string]any, error) {
	rc, err := svc.RaidContext(ctx, raid, "")
	if err != nil {
		return nil, err
	}

	var message string
	var choice any
	var startTimeStr any
	if cancelled {
		message = fmt.Sprintf("%s ei tule raidille", attendance.Submitter)
	} else {
		choices := raid.StartTimeChoices()
		startTime := choices[attendance.StartTimeChoice]
		startTimeStr = startTime.Format("15:04")
		choice = attendance.StartTimeChoice
		message = fmt.Sprintf("%s tulee raidille %s", attendance.Submitter, startTimeStr)
	}

	snippet, err := p.renderSnippet(ctx, rc, time.Now())
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"raid":      raid.ID,
		"choice":    choice,
		"time":      startTimeStr,
		"submitter": attendance.Submitter,
		"snippet":   snippet,
	}
	if err := p.Publish(ctx, "attendance", message, data); err != nil {
		log.Printf("messages: attendance broadcast failed: %v", err)
	}
	return data, nil
}

func epochOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
