package notify

import (
	"fmt"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/derive"
)

// Discord embed color constants.
const (
	ColorGreen  = 0x00FF00 // connected
	ColorRed    = 0xFF0000 // disconnected
	ColorOrange = 0xFFA500 // wrong password
	ColorGrey   = 0x95A5A6 // death
	ColorBlue   = 0x5865F2 // world saved (Discord blurple)
)

// MaxEmbedsPerRequest is the Discord API limit for embeds per message.
const MaxEmbedsPerRequest = 10

// SteamProfileURL is the profile link appended to peer messages.
const SteamProfileURL = "https://steamcommunity.com/profiles/"

// Server lifecycle announcements.
const (
	MessageServerStarted  = "Valheim server started"
	MessageServerStopping = "Valheim server shutting down"
)

// DiscordPayload represents a Discord webhook request body.
type DiscordPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents a Discord embed.
type DiscordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Message renders the chat text for a notification.
func Message(n derive.Notification) string {
	switch n.Type {
	case derive.NotifyPeerIdentified:
		return fmt.Sprintf("%s has connected.\n%s", n.Character, profileURL(n))
	case derive.NotifyPeerDisconnected:
		return fmt.Sprintf("%s has disconnected.\n%s", n.Character, profileURL(n))
	case derive.NotifyPeerRejected:
		return "A user gave the wrong password.\n" + profileURL(n)
	case derive.NotifyCharacterDied:
		return fmt.Sprintf("%s died an uneventful death. GGWP", n.Character)
	case derive.NotifyWorldSaved:
		return fmt.Sprintf("World saved in %.2fms", n.DurationMS)
	default:
		return ""
	}
}

func profileURL(n derive.Notification) string {
	return SteamProfileURL + n.PeerLabel()
}

// BuildPayloads creates Discord payloads from batched notifications,
// one embed per notification in arrival order.
// May return multiple payloads if notifications exceed MaxEmbedsPerRequest.
func BuildPayloads(notes []derive.Notification) []DiscordPayload {
	if len(notes) == 0 {
		return nil
	}

	embeds := make([]DiscordEmbed, 0, len(notes))
	for _, n := range notes {
		title, color := embedStyle(n.Type)
		if title == "" {
			continue
		}
		embeds = append(embeds, DiscordEmbed{
			Title:       title,
			Description: Message(n),
			Color:       color,
			Timestamp:   n.Time.Format(time.RFC3339),
		})
	}

	return splitIntoPayloads(embeds)
}

// TextPayload is a plain chat message, used for lifecycle announcements.
func TextPayload(text string) DiscordPayload {
	return DiscordPayload{Content: text}
}

func embedStyle(t derive.NotificationType) (string, int) {
	switch t {
	case derive.NotifyPeerIdentified:
		return "Player Connected", ColorGreen
	case derive.NotifyPeerDisconnected:
		return "Player Disconnected", ColorRed
	case derive.NotifyPeerRejected:
		return "Wrong Password", ColorOrange
	case derive.NotifyCharacterDied:
		return "Character Died", ColorGrey
	case derive.NotifyWorldSaved:
		return "World Saved", ColorBlue
	default:
		return "", 0
	}
}

func splitIntoPayloads(embeds []DiscordEmbed) []DiscordPayload {
	if len(embeds) == 0 {
		return nil
	}

	var payloads []DiscordPayload
	for i := 0; i < len(embeds); i += MaxEmbedsPerRequest {
		end := min(i+MaxEmbedsPerRequest, len(embeds))
		payloads = append(payloads, DiscordPayload{Embeds: embeds[i:end]})
	}
	return payloads
}
