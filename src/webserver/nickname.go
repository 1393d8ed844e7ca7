package webserver

import (
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

const (
	anonymousCounterKey = "raidikalu:anonymous_nickname_counter"
	anonymousCounterTTL = 300 * 24 * time.Hour
	nicknameMaxLength   = 16
)

var (
	nicknameCleanupRegex = regexp.MustCompile(`[^A-Za-z0-9]+`)
	nicknameSanitizer    = bluemonday.StrictPolicy()
)

// resolveSubmitter returns a stable opaque submitter identity for the
// request: the cleaned-up nickname the caller provided, or a fresh
// anonymous one allocated from the shared counter. How callers persist
// the identity between requests (cookie, token) is their concern.
func (h Raids) resolveSubmitter(c *gin.Context) string {
	nickname := c.PostForm("submitter")
	if nickname == "" {
		nickname = c.Query("submitter")
	}
	if nickname != "" {
		nickname = nicknameSanitizer.Sanitize(nickname)
		nickname = nicknameCleanupRegex.ReplaceAllString(nickname, "")
		if len(nickname) > nicknameMaxLength {
			nickname = nickname[:nicknameMaxLength]
		}
	}
	if nickname != "" {
		return nickname
	}

	counter, err := h.rdb.Incr(c, anonymousCounterKey).Result()
	if err != nil {
		log.Printf("webserver: anonymous counter failed: %v", err)
		return "#anonyymi"
	}
	h.rdb.Expire(c, anonymousCounterKey, anonymousCounterTTL)
	return fmt.Sprintf("#anonyymi-%d", counter)
}
