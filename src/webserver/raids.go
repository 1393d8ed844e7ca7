package webserver

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/messages"
	"github.com/raidikalu/raidikalu/src/raids"
	"github.com/raidikalu/raidikalu/src/types"
)

var absoluteTimeRegex = regexp.MustCompile(`^(\d?\d).?(\d\d)$`)

type Raids struct {
	db           *gorm.DB
	rdb          *redis.Client
	svc          *raids.Service
	pub          *messages.Publisher
	baseImageURL string
}

func NewRaids(db *gorm.DB, rdb *redis.Client, svc *raids.Service, pub *messages.Publisher, baseImageURL string) Raids {
	return Raids{db: db, rdb: rdb, svc: svc, pub: pub, baseImageURL: baseImageURL}
}

// imageURL prefers the explicitly configured image and falls back to
// the shared base URL pattern keyed by dex number.
func (h Raids) imageURL(explicit string, number *int) string {
	if explicit != "" {
		return explicit
	}
	if number == nil || h.baseImageURL == "" {
		return ""
	}
	return fmt.Sprintf(h.baseImageURL, *number)
}

// List returns the live raid list with per-slot attendee context, the
// active boss catalog and the infobox content.
func (h Raids) List(c *gin.Context) {
	activeRaids, err := h.svc.ActiveRaids(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	raidTypes, err := h.svc.ActiveRaidTypes(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	nickname := c.Query("nickname")
	now := time.Now()
	raidsJSON := make([]gin.H, 0, len(activeRaids))
	for i := range activeRaids {
		raid := &activeRaids[i]
		rc, err := h.svc.RaidContext(c, raid, nickname)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		raidsJSON = append(raidsJSON, h.raidContextJSON(rc, now))
	}

	typesJSON := make([]gin.H, 0, len(raidTypes))
	for _, rt := range raidTypes {
		typesJSON = append(typesJSON, gin.H{
			"tier":           rt.Tier,
			"tier_display":   rt.TierDisplay(),
			"monster":        rt.MonsterName,
			"monster_number": rt.MonsterNumber,
			"image_url":      h.imageURL(rt.ImageURL, rt.MonsterNumber),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"infobox":    infoBoxContent(h.db),
		"raid_types": typesJSON,
		"raids":      raidsJSON,
		"now":        now.Unix(),
	})
}

// Create handles the public submission form: one report from an
// anonymous or nicknamed submitter, converted into votes.
func (h Raids) Create(c *gin.Context) {
	gym, err := h.findGym(c.PostForm("gym"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "gym not found"})
		return
	}

	raidTypes, err := h.svc.ActiveRaidTypes(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	var reportVotes []raids.Vote

	if startAt := h.parseReportTime(c); startAt != nil {
		reportVotes = append(reportVotes, raids.Vote{
			Field: types.FieldStartAt,
			Value: strconv.FormatInt(startAt.UTC().Unix(), 10),
		})
	}

	// The public form only accepts bosses from the active catalog, or a
	// bare tier.
	raidBoss := c.PostForm("raid-boss")
	if tier, found := strings.CutPrefix(raidBoss, "tier-"); found {
		switch tier {
		case "1", "2", "3", "4", "5":
			reportVotes = append(reportVotes, raids.Vote{Field: types.FieldTier, Value: tier})
		}
	} else if raidBoss != "" {
		for _, rt := range raidTypes {
			if rt.MonsterName == raidBoss {
				reportVotes = append(reportVotes, raids.Vote{Field: types.FieldMonster, Value: raidBoss})
				break
			}
		}
	}

	submitter := h.resolveSubmitter(c)
	raid, err := h.svc.SubmitReport(c, raids.Report{
		Gym:       gym,
		Votes:     reportVotes,
		Submitter: submitter,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"raid":      h.raidJSON(raid, time.Now()),
		"submitter": submitter,
	})
}

// findGym resolves the submission form's gym field: a numeric id, a
// gym name, or one of the administratively maintained gym nicknames.
func (h Raids) findGym(key string) (*types.Gym, error) {
	var gym types.Gym
	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		if err := h.db.First(&gym, id).Error; err != nil {
			return nil, err
		}
		return &gym, nil
	}

	err := h.db.Where("name = ? AND is_active = ?", key, true).First(&gym).Error
	if err == nil {
		return &gym, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = h.db.Joins("JOIN gym_nicknames ON gym_nicknames.gym_id = gyms.id").
		Where("gym_nicknames.nickname = ? AND gyms.is_active = ?", key, true).
		First(&gym).Error
	if err != nil {
		return nil, err
	}
	return &gym, nil
}

// SetAttendance commits or cancels a start-time choice for a raid.
func (h Raids) SetAttendance(c *gin.Context) {
	raidID, err := strconv.ParseUint(c.PostForm("raid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad raid id"})
		return
	}
	raid, err := h.svc.GetRaid(c, raidID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "raid not found"})
		return
	}

	submitter := h.resolveSubmitter(c)
	choice := c.PostForm("choice")

	if choice == "cancel" {
		attendance, err := h.svc.CancelAttendance(c, raid, submitter)
		if errors.Is(err, raids.ErrNotAttending) {
			c.JSON(http.StatusNotFound, gin.H{"err": "not attending"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		data, err := h.pub.AttendanceUpdated(c, h.svc, raid, attendance, true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		c.JSON(http.StatusOK, data)
		return
	}

	choiceIndex, err := strconv.Atoi(choice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid choice"})
		return
	}
	attendance, err := h.svc.SetAttendance(c, raid, submitter, choiceIndex)
	if errors.Is(err, raids.ErrInvalidChoice) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid choice"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	data, err := h.pub.AttendanceUpdated(c, h.svc, raid, attendance, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}

// parseReportTime interprets the form's time input. The value is either
// an absolute clock time ("1815", "18.15") or minutes from now; the
// field type says whether it describes the start or the end of the
// battle window.
func (h Raids) parseReportTime(c *gin.Context) *time.Time {
	fieldType := c.PostForm("raid-time-field-type")
	valueType := c.PostForm("raid-time-value-type")
	timeStr := c.PostForm("raid-time")
	if timeStr == "" {
		return nil
	}

	now := time.Now()
	var raidTime time.Time

	switch valueType {
	case "absolute":
		m := absoluteTimeRegex.FindStringSubmatch(timeStr)
		if m == nil {
			log.Printf("webserver: time input %q did not match", timeStr)
			return nil
		}
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		if hours > 23 || minutes > 59 {
			log.Printf("webserver: time input %q not within bounds", timeStr)
			return nil
		}
		raidTime = time.Date(now.Year(), now.Month(), now.Day(), hours, minutes, 0, 0, time.Local)
	case "relative":
		minutes, err := strconv.Atoi(timeStr)
		if err != nil || minutes < 0 || minutes > 120 {
			log.Printf("webserver: time input %q not numeric or not within bounds", timeStr)
			return nil
		}
		raidTime = now.Add(time.Duration(minutes) * time.Minute)
	default:
		return nil
	}

	var startAt time.Time
	switch fieldType {
	case "start":
		startAt = raidTime
	case "end":
		startAt = raidTime.Add(-types.RaidBattleDuration)
	default:
		return nil
	}
	return &startAt
}

func (h Raids) raidJSON(raid *types.Raid, now time.Time) gin.H {
	return gin.H{
		"id":               raid.ID,
		"gym":              raid.Gym.Name,
		"tier":             raid.Tier,
		"tier_display":     raid.TierDisplay(),
		"monster":          raid.MonsterName,
		"monster_number":   raid.MonsterNumber,
		"image_url":        h.imageURL("", raid.MonsterNumber),
		"fast_move":        raid.FastMove,
		"charge_move":      raid.ChargeMove,
		"unverified":       raid.UnverifiedText,
		"has_started":      raid.HasStarted(now),
		"start":            epochOrNil(raid.StartAt),
		"end":              epochOrNil(raid.EndAt),
		"time_until_start": raid.TimeLeftUntilStartDisplay(now),
		"time_until_end":   raid.TimeLeftUntilEndDisplay(now),
		"lat":              raid.Gym.Latitude.String(),
		"lng":              raid.Gym.Longitude.String(),
	}
}

func (h Raids) raidContextJSON(rc *raids.RaidContext, now time.Time) gin.H {
	out := h.raidJSON(rc.Raid, now)
	slots := make([]gin.H, 0, len(rc.Slots))
	for _, slot := range rc.Slots {
		attendees := make([]string, 0, len(slot.Attendances))
		for _, attendance := range slot.Attendances {
			attendees = append(attendees, attendance.Submitter)
		}
		slots = append(slots, gin.H{
			"time":      slot.Time.Format("15:04"),
			"attendees": attendees,
		})
	}
	out["start_times"] = slots
	out["attendance_count"] = rc.AttendanceCount
	out["own_choice"] = rc.OwnChoice
	return out
}

func infoBoxContent(db *gorm.DB) string {
	var infoBox types.InfoBox
	if err := db.First(&infoBox).Error; err != nil {
		return ""
	}
	return infoBox.Content
}

func epochOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
