package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

func init() {
	Register("natsfeed", func() Provider { return &natsFeedProvider{} })
}

// natsFeedProvider pull-consumes position reports published as JSON onto a
// NATS JetStream subject. Pull (not push) subscription keeps backpressure on
// the provider side: each poll fetches at most batch messages.
//
// Unlike the HTTP providers it maintains a long-lived connection across
// polls; the connection is scoped to the provider instance, which is scoped
// to one stream worker.
type natsFeedProvider struct {
	mu      sync.Mutex
	conn    *nats.Conn
	sub     *nats.Subscription
	connURL string
}

func (n *natsFeedProvider) Name() string { return "natsfeed" }

func (n *natsFeedProvider) Metadata() Metadata {
	return Metadata{
		DisplayName: "NATS Position Feed",
		Category:    "broker",
		ConfigFields: []ConfigField{
			{Name: "url", Label: "NATS URL", Type: "url", Required: true, Default: nats.DefaultURL},
			{Name: "subject", Label: "Subject filter", Type: "string", Required: true, Default: "positions.>"},
			{Name: "stream", Label: "JetStream stream", Type: "string", Required: true},
			{Name: "durable", Label: "Durable consumer name", Type: "string", Required: true},
			{Name: "batch", Label: "Max messages per poll", Type: "int", Default: 256},
			{Name: "credentials", Label: "Credentials file contents", Type: "password", Sensitive: true},
		},
	}
}

func (n *natsFeedProvider) ValidateConfig(cfg map[string]any) (bool, []string) {
	return requireFields(cfg, "url", "subject", "stream", "durable")
}

// connectOptions assembles the connect options for a feed config. Credential
// file contents, when configured, are turned into a JWT/nonce-signing pair the
// same way nats.UserCredentials does, without requiring a file on disk.
func connectOptions(cfg map[string]any, name string) []nats.Option {
	opts := []nats.Option{nats.Name(name)}
	creds := cfgString(cfg, "credentials")
	if creds == "" {
		return opts
	}
	contents := []byte(creds)
	return append(opts, nats.UserJWT(
		func() (string, error) {
			return nkeys.ParseDecoratedJWT(contents)
		},
		func(nonce []byte) ([]byte, error) {
			kp, err := nkeys.ParseDecoratedNKey(contents)
			if err != nil {
				return nil, err
			}
			defer kp.Wipe()
			return kp.Sign(nonce)
		},
	))
}

func (n *natsFeedProvider) TestConnection(ctx context.Context, _ *http.Client, cfg map[string]any) TestResult {
	nc, err := nats.Connect(cfgString(cfg, "url"), connectOptions(cfg, "trakbridge-test")...)
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	info, err := js.StreamInfo(cfgString(cfg, "stream"))
	if err != nil {
		return TestResult{Success: false, Error: fmt.Sprintf("stream lookup: %v", err)}
	}
	return TestResult{Success: true, Details: map[string]any{"pending_messages": info.State.Msgs}}
}

// feedMessage is the JSON payload expected on the subject.
type feedMessage struct {
	UID         string   `json:"uid"`
	Name        string   `json:"name"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Timestamp   string   `json:"timestamp"` // RFC 3339
	Altitude    *float64 `json:"altitude,omitempty"`
	SpeedMPS    *float64 `json:"speed_mps,omitempty"`
	CourseDeg   *float64 `json:"course_deg,omitempty"`
	Description string   `json:"description,omitempty"`
	CotType     string   `json:"cot_type,omitempty"`
}

func (n *natsFeedProvider) Fetch(ctx context.Context, _ *http.Client, cfg map[string]any) ([]model.Position, error) {
	sub, err := n.subscription(cfg)
	if err != nil {
		return nil, err
	}

	batch := cfgInt(cfg, "batch", 256)
	msgs, err := sub.Fetch(batch, nats.Context(ctx))
	if err != nil {
		// An empty queue surfaces as a timeout; that is a valid empty result.
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		n.reset()
		return nil, NetworkError("jetstream fetch", err)
	}

	positions := make([]model.Position, 0, len(msgs))
	for _, msg := range msgs {
		var fm feedMessage
		if err := json.Unmarshal(msg.Data, &fm); err != nil {
			// Malformed reports are acked and skipped; the feed is lossy
			// last-known-position data, never worth redelivery.
			_ = msg.Ack()
			continue
		}
		ts, err := time.Parse(time.RFC3339, fm.Timestamp)
		if err != nil {
			_ = msg.Ack()
			continue
		}
		positions = append(positions, model.Position{
			UID:         fm.UID,
			Name:        fm.Name,
			Lat:         fm.Lat,
			Lon:         fm.Lon,
			Timestamp:   ts.UTC(),
			Altitude:    fm.Altitude,
			SpeedMPS:    fm.SpeedMPS,
			CourseDeg:   fm.CourseDeg,
			Description: fm.Description,
			CotTypeHint: fm.CotType,
		})
		_ = msg.Ack()
	}
	return positions, nil
}

// subscription lazily establishes the connection and durable pull
// subscription, reusing them across polls.
func (n *natsFeedProvider) subscription(cfg map[string]any) (*nats.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	url := cfgString(cfg, "url")
	if n.sub != nil && n.conn != nil && n.conn.IsConnected() && n.connURL == url {
		return n.sub, nil
	}
	n.closeLocked()

	opts := append(connectOptions(cfg, "trakbridge-natsfeed"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, NetworkError("connect to NATS", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, NetworkError("init JetStream", err)
	}
	sub, err := js.PullSubscribe(
		cfgString(cfg, "subject"),
		cfgString(cfg, "durable"),
		nats.BindStream(cfgString(cfg, "stream")),
	)
	if err != nil {
		conn.Close()
		return nil, NetworkError("pull subscribe", err)
	}

	n.conn = conn
	n.sub = sub
	n.connURL = url
	return sub, nil
}

func (n *natsFeedProvider) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
}

// Close releases the connection and subscription. The stream worker calls it
// when the stream stops, so a reconciliation restart never leaks a client.
func (n *natsFeedProvider) Close() error {
	n.reset()
	return nil
}

func (n *natsFeedProvider) closeLocked() {
	if n.conn != nil {
		// Drain flushes outstanding acks before closing.
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}
	n.conn = nil
	n.sub = nil
}

func (n *natsFeedProvider) AvailableFields() []FieldMeta {
	return []FieldMeta{
		{Name: "uid", Label: "Device UID"},
		{Name: "name", Label: "Device name"},
	}
}

func (n *natsFeedProvider) ApplyCallsignMapping(positions []model.Position, field string, mappings map[string]model.CallsignMapping) []model.Position {
	return applyMappings(positions, field, mappings)
}
