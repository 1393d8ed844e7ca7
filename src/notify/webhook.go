package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"

	"github.com/raidikalu/raidikalu/src/types"
)

var webhookClient = &http.Client{Timeout: 30 * time.Second}

// raidFields carries the per-raid values shared by every delivery
// format.
type raidFields struct {
	Boss          string
	TierDisplay   string
	TimeLeft      string
	GymName       string
	GymImageURL   string
	LocationURL   string
	DirectionsURL string
	StartsAt      string
	EndsAt        string
}

func buildRaidFields(raid *types.Raid) raidFields {
	now := time.Now()
	lat := raid.Gym.Latitude.String()
	lng := raid.Gym.Longitude.String()
	f := raidFields{
		Boss:          raid.MonsterName,
		TierDisplay:   raid.TierDisplay(),
		TimeLeft:      raid.TimeLeftUntilEndDisplay(now),
		GymName:       raid.Gym.Name,
		GymImageURL:   raid.Gym.ImageURL,
		LocationURL:   fmt.Sprintf("https://gymhuntr.com/#%s,%s", lat, lng),
		DirectionsURL: fmt.Sprintf("https://www.google.com/maps/?daddr=%s,%s", lat, lng),
		StartsAt:      types.EnDash,
		EndsAt:        types.EnDash,
	}
	if raid.StartAt != nil {
		f.StartsAt = raid.StartAt.Format("15:04")
	}
	if raid.EndAt != nil {
		f.EndsAt = raid.EndAt.Format("15:04")
	}
	return f
}

func (f raidFields) text() string {
	return fmt.Sprintf("%s - %s jäljellä - %s", f.Boss, f.TimeLeft, f.GymName)
}

func (n *Notifier) notifySlack(ctx context.Context, raid *types.Raid, rule types.NotificationRule) {
	f := buildRaidFields(raid)
	msg := &slack.WebhookMessage{
		Username:  "Raidikalu",
		IconEmoji: ":large_blue_circle:",
		Text:      f.text(),
		Attachments: []slack.Attachment{{
			ThumbURL: f.GymImageURL,
			Fields: []slack.AttachmentField{
				{Title: "Sali", Value: f.GymName},
				{Title: "Pokémon", Value: f.Boss, Short: true},
				{Title: "Taso", Value: f.TierDisplay, Short: true},
				{Title: "Sijainti", Value: fmt.Sprintf("<%s|Salin sijainti>", f.LocationURL), Short: true},
				{Title: "Ajo-ohjeet", Value: fmt.Sprintf("<%s|Ajo-ohjeet salille>", f.DirectionsURL), Short: true},
				{Title: "Alkaa", Value: f.StartsAt, Short: true},
				{Title: "Päättyy", Value: f.EndsAt, Short: true},
			},
		}},
	}
	if rule.Channel != "" {
		msg.Channel = rule.Channel
	}
	if err := slack.PostWebhookContext(ctx, rule.Webhook, msg); err != nil {
		log.Printf("notify: slack delivery for raid %d failed: %v", raid.ID, err)
	}
}

func (n *Notifier) notifyDiscord(ctx context.Context, raid *types.Raid, rule types.NotificationRule) {
	webhookID, token, ok := parseDiscordWebhook(rule.Webhook)
	if !ok {
		// Not a recognizable Discord webhook URL; deliver the generic
		// JSON form instead.
		n.postWebhook(ctx, raid, rule)
		return
	}

	session, err := discordgo.New("")
	if err != nil {
		log.Printf("notify: discord session: %v", err)
		return
	}

	f := buildRaidFields(raid)
	params := &discordgo.WebhookParams{
		Username: "Raidikalu",
		Content:  f.text(),
		Embeds: []*discordgo.MessageEmbed{{
			Thumbnail: &discordgo.MessageEmbedThumbnail{URL: f.GymImageURL},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Sali", Value: f.GymName},
				{Name: "Pokémon", Value: f.Boss, Inline: true},
				{Name: "Taso", Value: f.TierDisplay, Inline: true},
				{Name: "Sijainti", Value: f.LocationURL, Inline: true},
				{Name: "Ajo-ohjeet", Value: f.DirectionsURL, Inline: true},
				{Name: "Alkaa", Value: f.StartsAt, Inline: true},
				{Name: "Päättyy", Value: f.EndsAt, Inline: true},
			},
		}},
	}
	if _, err := session.WebhookExecute(webhookID, token, false, params); err != nil {
		log.Printf("notify: discord delivery for raid %d failed: %v", raid.ID, err)
	}
}

// postWebhook delivers the legacy Slack-shaped JSON payload to an
// arbitrary webhook URL.
func (n *Notifier) postWebhook(ctx context.Context, raid *types.Raid, rule types.NotificationRule) {
	f := buildRaidFields(raid)
	payload := map[string]any{
		"username":     "Raidikalu",
		"icon_emoji":   ":large_blue_circle:",
		"text":         f.text(),
		"unfurl_media": false,
		"attachments": []map[string]any{{
			"fallback":  "",
			"thumb_url": f.GymImageURL,
			"fields": []map[string]any{
				{"title": "Sali", "value": f.GymName},
				{"title": "Pokémon", "value": f.Boss, "short": true},
				{"title": "Taso", "value": f.TierDisplay, "short": true},
				{"title": "Sijainti", "value": fmt.Sprintf("<%s|Salin sijainti>", f.LocationURL), "short": true},
				{"title": "Ajo-ohjeet", "value": fmt.Sprintf("<%s|Ajo-ohjeet salille>", f.DirectionsURL), "short": true},
				{"title": "Alkaa", "value": f.StartsAt, "short": true},
				{"title": "Päättyy", "value": f.EndsAt, "short": true},
			},
		}},
	}
	if rule.Channel != "" {
		payload["channel"] = rule.Channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rule.Webhook, bytes.NewBuffer(body))
	if err != nil {
		log.Printf("notify: webhook request for raid %d: %v", raid.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		log.Printf("notify: webhook delivery for raid %d failed: %v", raid.ID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify: webhook delivery for raid %d returned %d", raid.ID, resp.StatusCode)
	}
}

// parseDiscordWebhook extracts the id and token from a Discord webhook
// URL of the form https://discord.com/api/webhooks/<id>/<token>.
func parseDiscordWebhook(webhook string) (string, string, bool) {
	u, err := url.Parse(webhook)
	if err != nil {
		return "", "", false
	}
	host := u.Hostname()
	if host != "discord.com" && host != "discordapp.com" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// api / webhooks / id / token
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "webhooks" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
