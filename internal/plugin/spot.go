package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

func init() {
	Register("spot", func() Provider { return &spotProvider{} })
}

const spotFeedURL = "https://api.findmespot.com/spot-main-web/consumer/rest-api/2.0/public/feed/%s/message.json"

// spotProvider polls a SPOT satellite messenger shared page feed.
type spotProvider struct{}

func (s *spotProvider) Name() string { return "spot" }

func (s *spotProvider) Metadata() Metadata {
	return Metadata{
		DisplayName: "SPOT Tracker",
		Category:    "satellite",
		ConfigFields: []ConfigField{
			{Name: "feed_id", Label: "Shared page feed ID", Type: "string", Required: true},
			{Name: "feed_password", Label: "Feed password", Type: "password", Sensitive: true},
		},
		HelpSections: []HelpSection{{
			Title: "Finding your feed ID",
			Lines: []string{
				"Create a shared page in your SPOT account and copy the GLID from its URL.",
				"Password-protected feeds also need the feed password.",
			},
		}},
	}
}

func (s *spotProvider) ValidateConfig(cfg map[string]any) (bool, []string) {
	return requireFields(cfg, "feed_id")
}

func (s *spotProvider) TestConnection(ctx context.Context, client *http.Client, cfg map[string]any) TestResult {
	positions, err := s.Fetch(ctx, client, cfg)
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	return TestResult{Success: true, Details: map[string]any{"messages": len(positions)}}
}

// spotFeed mirrors the SPOT shared page JSON envelope.
type spotFeed struct {
	Response struct {
		Errors *struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"errors"`
		FeedMessageResponse struct {
			Messages struct {
				Message []spotMessage `json:"message"`
			} `json:"messages"`
		} `json:"feedMessageResponse"`
	} `json:"response"`
}

type spotMessage struct {
	ID             int64    `json:"id"`
	MessengerID    string   `json:"messengerId"`
	MessengerName  string   `json:"messengerName"`
	UnixTime       int64    `json:"unixTime"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Altitude       *float64 `json:"altitude"`
	MessageType    string   `json:"messageType"`
	MessageContent string   `json:"messageContent"`
}

func (s *spotProvider) Fetch(ctx context.Context, client *http.Client, cfg map[string]any) ([]model.Position, error) {
	feedID := cfgString(cfg, "feed_id")
	if feedID == "" {
		return nil, AuthError("feed_id is not configured")
	}

	u := fmt.Sprintf(spotFeedURL, url.PathEscape(feedID))
	if pw := cfgString(cfg, "feed_password"); pw != "" {
		u += "?feedPassword=" + url.QueryEscape(pw)
	}

	body, err := httpGet(ctx, client, u, nil)
	if err != nil {
		return nil, err
	}

	var feed spotFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, ParseError("decode SPOT feed", err)
	}
	if e := feed.Response.Errors; e != nil {
		// SPOT reports feed-level failures in-band with a 200 status.
		switch e.Error.Code {
		case "E-0195": // no messages in the window: a valid empty result
			return nil, nil
		case "E-0160":
			return nil, AuthError(e.Error.Description)
		default:
			return nil, UnknownError(e.Error.Description, nil)
		}
	}

	msgs := feed.Response.FeedMessageResponse.Messages.Message
	positions := make([]model.Position, 0, len(msgs))
	for _, m := range msgs {
		if m.MessengerID == "" {
			continue
		}
		p := model.Position{
			UID:         "spot-" + m.MessengerID,
			Name:        m.MessengerName,
			Lat:         m.Latitude,
			Lon:         m.Longitude,
			Timestamp:   time.Unix(m.UnixTime, 0).UTC(),
			Altitude:    m.Altitude,
			Description: m.MessageContent,
		}
		p.SetExtra("messenger_id", m.MessengerID)
		p.SetExtra("message_type", m.MessageType)
		positions = append(positions, p)
	}
	return positions, nil
}

func (s *spotProvider) AvailableFields() []FieldMeta {
	return []FieldMeta{
		{Name: "uid", Label: "Device UID"},
		{Name: "name", Label: "Messenger name"},
		{Name: "messenger_id", Label: "Messenger ID"},
	}
}

func (s *spotProvider) ApplyCallsignMapping(positions []model.Position, field string, mappings map[string]model.CallsignMapping) []model.Position {
	return applyMappings(positions, field, mappings)
}
