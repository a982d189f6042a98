package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Notification actions understood by the click handler.
const (
	ActionView    = "view"
	ActionDismiss = "dismiss"
)

// Action is a button rendered on a notification.
type Action struct {
	Action string `json:"action" validate:"required"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data carries the deep-link hints attached to a notification.
type Data struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Intent is a notification ready to be displayed.
type Intent struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon"`
	Badge              string   `json:"badge"`
	Tag                string   `json:"tag"`
	Renotify           bool     `json:"renotify"`
	RequireInteraction bool     `json:"requireInteraction"`
	Actions            []Action `json:"actions"`
	Data               Data     `json:"data"`
}

// Defaults fills the fields a push payload leaves out.
type Defaults struct {
	Title    string
	Body     string
	Icon     string
	Badge    string
	Tag      string
	Actions  []Action
	Sections map[string]string
}

// DefaultSettings returns the stock GreenTrace notification defaults.
func DefaultSettings() Defaults {
	return Defaults{
		Title: "GreenTrace AI",
		Body:  "You have a new sustainability update!",
		Icon:  "/icon-192.png",
		Badge: "/badge-72.png",
		Tag:   "general",
		Actions: []Action{
			{Action: ActionView, Title: "View", Icon: "/icon-action-view.png"},
			{Action: ActionDismiss, Title: "Dismiss", Icon: "/icon-action-dismiss.png"},
		},
		Sections: map[string]string{
			"challenge":   "/?section=challenges",
			"achievement": "/?section=achievements",
			"social":      "/?section=social",
		},
	}
}

type pushPayload struct {
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Tag                string    `json:"tag"`
	RequireInteraction *bool     `json:"requireInteraction"`
	Actions            *[]Action `json:"actions"`
	Data               *Data     `json:"data"`
}

// ParsePush turns a raw push payload into an Intent. An empty payload reports ok=false with no
// error; a payload that is not a JSON object is an error.
func ParsePush(raw []byte, defaults Defaults) (Intent, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Intent{}, false, nil
	}

	var payload pushPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Intent{}, false, fmt.Errorf("notify: malformed push payload: %w", err)
	}

	intent := Intent{
		Title:    firstNonEmpty(payload.Title, defaults.Title),
		Body:     firstNonEmpty(payload.Body, defaults.Body),
		Icon:     defaults.Icon,
		Badge:    defaults.Badge,
		Tag:      firstNonEmpty(payload.Tag, defaults.Tag),
		Renotify: true,
		Actions:  append([]Action(nil), defaults.Actions...),
	}
	if payload.RequireInteraction != nil {
		intent.RequireInteraction = *payload.RequireInteraction
	}
	// An explicit empty list means no buttons; only an absent field takes the defaults.
	if payload.Actions != nil {
		intent.Actions = append([]Action{}, (*payload.Actions)...)
	}
	if payload.Data != nil {
		intent.Data = *payload.Data
	}
	return intent, true, nil
}

// ResolveTarget picks the in-app URL a click navigates to. ok is false for the dismiss action.
func ResolveTarget(action string, data Data, sections map[string]string) (string, bool) {
	action = strings.TrimSpace(action)
	if action == ActionDismiss {
		return "", false
	}
	if action == ActionView && strings.TrimSpace(data.URL) != "" {
		return strings.TrimSpace(data.URL), true
	}
	if route, found := sections[strings.TrimSpace(data.Type)]; found && route != "" {
		return route, true
	}
	return "/", true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
