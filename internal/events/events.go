// Package events publishes build lifecycle events on NATS JetStream. The
// publisher is optional: a nil *Publisher is safe to call everywhere, and
// publish failures are logged without ever failing a build.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/model"
)

// BuildEvent is the JSON payload published on <prefix>.<status>.
type BuildEvent struct {
	BuildID      int64              `json:"build_id"`
	RepositoryID int64              `json:"repository_id"`
	TargetID     int64              `json:"target_id"`
	Status       model.BuildStatus  `json:"status"`
	Trigger      model.BuildTrigger `json:"trigger"`
	RefName      string             `json:"ref_name"`
	Commit       string             `json:"commit,omitempty"`
	ErrorKind    model.ErrorKind    `json:"error_kind,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Publisher wraps the JetStream connection. Construct only when events are
// enabled in the settings.
type Publisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// New connects to NATS and returns a Publisher, or (nil, nil) when events are
// disabled.
func New(cfg config.EventsSettings) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("docfleet"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	slog.Info("build event publisher connected", "url", cfg.URL, "subject_prefix", cfg.SubjectPrefix)
	return &Publisher{conn: conn, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Publish emits one lifecycle event. Errors are logged and swallowed; event
// delivery must never affect the build.
func (p *Publisher) Publish(build *model.Build) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := BuildEvent{
		BuildID:      build.ID,
		RepositoryID: build.RepositoryID,
		TargetID:     build.TargetID,
		Status:       build.Status,
		Trigger:      build.Trigger,
		RefName:      build.RefName,
		Commit:       build.Commit,
		ErrorKind:    build.ErrorKind,
		Timestamp:    time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal build event", logfields.BuildID(build.ID), logfields.Error(err))
		return
	}
	subject := p.prefix + "." + string(build.Status)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish build event", logfields.BuildID(build.ID),
			slog.String("subject", subject), logfields.Error(err))
	}
}

// Close drops the connection. Safe on nil.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
