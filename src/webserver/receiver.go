package webserver

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/raids"
	"github.com/raidikalu/raidikalu/src/types"
)

// millisecondThreshold separates epoch-second from epoch-millisecond
// timestamps by magnitude. This works between UTC 2001-09-09 01:46:40
// and UTC 33658-09-27 01:46:40; outside of those it will overlap with
// seconds.
const millisecondThreshold = 1000000000000

var camelBoundaryRegex = regexp.MustCompile(`([A-Z])`)

// sourceAuth resolves the :api_key path segment to a data source and
// aborts with 401 when the key is unknown.
func sourceAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var source types.DataSource
		err := db.Where("api_key = ?", c.Param("api_key")).First(&source).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "unknown data source"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		c.Set("source", &source)
		c.Next()
	}
}

func contextSource(c *gin.Context) *types.DataSource {
	source, _ := c.MustGet("source").(*types.DataSource)
	return source
}

type Receiver struct {
	db  *gorm.DB
	svc *raids.Service
}

func NewReceiver(db *gorm.DB, svc *raids.Service) Receiver {
	return Receiver{db: db, svc: svc}
}

// ReceiveRaid ingests one raid report from an authenticated data
// source. Reports about already-ended raids are dropped without error.
func (h Receiver) ReceiveRaid(c *gin.Context) {
	source := contextSource(c)

	var req struct {
		GymID      string `json:"gym_id" binding:"required"`
		Tier       *int   `json:"tier"`
		Monster    string `json:"monster"`
		FastMove   string `json:"fast_move"`
		ChargeMove string `json:"charge_move"`
		StartTime  *int64 `json:"start_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var reportVotes []raids.Vote

	if req.Tier != nil {
		reportVotes = append(reportVotes, raids.Vote{
			Field: types.FieldTier,
			Value: strconv.Itoa(*req.Tier),
		})
	}
	if req.Monster != "" {
		reportVotes = append(reportVotes, raids.Vote{
			Field: types.FieldMonster,
			Value: req.Monster,
		})
	}
	if req.FastMove != "" {
		reportVotes = append(reportVotes, raids.Vote{
			Field: types.FieldFastMove,
			Value: splitCamelCase(req.FastMove),
		})
	}
	if req.ChargeMove != "" {
		reportVotes = append(reportVotes, raids.Vote{
			Field: types.FieldChargeMove,
			Value: splitCamelCase(req.ChargeMove),
		})
	}
	if req.StartTime != nil {
		startTimestamp := NormalizeEpochSeconds(*req.StartTime)
		reportVotes = append(reportVotes, raids.Vote{
			Field: types.FieldStartAt,
			Value: strconv.FormatInt(startTimestamp, 10),
		})

		// Drop reports whose battle window has already closed.
		endAt := time.Unix(startTimestamp, 0).Add(types.RaidBattleDuration)
		if !endAt.After(time.Now()) {
			c.String(http.StatusOK, "OK")
			return
		}
	}

	var gym types.Gym
	if err := h.db.Where("pogo_id = ?", req.GymID).First(&gym).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "gym not found"})
		return
	}

	if _, err := h.svc.SubmitReport(c, raids.Report{
		Gym:    &gym,
		Votes:  reportVotes,
		Source: source,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.String(http.StatusOK, "OK")
}

// Export lists raids this source has not acknowledged with a boss-name
// vote yet, for polling integrations.
func (h Receiver) Export(c *gin.Context) {
	source := contextSource(c)

	pending, err := h.svc.ExportPending(c, source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(pending))
	for i := range pending {
		raid := &pending[i]
		out = append(out, gin.H{
			"id":          raid.ID,
			"tier":        raid.Tier,
			"gym_id":      raid.Gym.PogoID,
			"latitude":    raid.Gym.Latitude,
			"longitude":   raid.Gym.Longitude,
			"monster":     raid.MonsterName,
			"fast_move":   raid.FastMove,
			"charge_move": raid.ChargeMove,
			"start_time":  epochOrNil(raid.StartAt),
			"end_time":    epochOrNil(raid.EndAt),
			"created_at":  raid.CreatedAt.UTC().Unix(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// ReceiveGym ingests a gym sighting. Existing gyms are left untouched;
// new ones arrive inactive until approved administratively.
func (h Receiver) ReceiveGym(c *gin.Context) {
	var req struct {
		GUID      string          `json:"guid"`
		Name      string          `json:"name" binding:"required"`
		Latitude  decimal.Decimal `json:"latitude"`
		Longitude decimal.Decimal `json:"longitude"`
		ImageURL  string          `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	guid := req.GUID
	if guid == "" {
		guid = uuid.NewString()
	}

	var gym types.Gym
	err := h.db.Where("pogo_id = ?", guid).First(&gym).Error
	if err == nil {
		c.String(http.StatusOK, "OK")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	gym = types.Gym{
		Name:      req.Name,
		PogoID:    guid,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		ImageURL:  strings.Replace(req.ImageURL, "http://", "https://", 1),
		IsActive:  false,
	}
	if err := h.db.Create(&gym).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.String(http.StatusOK, "OK")
}

// GymUUIDs returns every known gym provider id, comma-joined.
func (h Receiver) GymUUIDs(c *gin.Context) {
	var ids []string
	if err := h.db.Model(&types.Gym{}).Pluck("pogo_id", &ids).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.String(http.StatusOK, strings.Join(ids, ","))
}

// GymCoordinates returns "lat,lng" lines for every active gym.
func (h Receiver) GymCoordinates(c *gin.Context) {
	var gyms []types.Gym
	if err := h.db.Where("is_active = ?", true).Find(&gyms).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	lines := make([]string, 0, len(gyms))
	for _, gym := range gyms {
		lines = append(lines, gym.Latitude.String()+","+gym.Longitude.String())
	}
	c.String(http.StatusOK, strings.Join(lines, "\n"))
}

// NormalizeEpochSeconds converts a timestamp that may be expressed in
// seconds or milliseconds into seconds, deciding by magnitude.
func NormalizeEpochSeconds(timestamp int64) int64 {
	if timestamp > millisecondThreshold {
		return timestamp / 1000
	}
	return timestamp
}

// splitCamelCase turns upstream "QuickAttack" style move names into
// their display form.
func splitCamelCase(name string) string {
	return strings.TrimSpace(camelBoundaryRegex.ReplaceAllString(name, " $1"))
}
