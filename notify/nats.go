// Package notify announces mission changes between service instances over
// NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectMissionChanged carries a MissionEvent for every mission mutation.
const SubjectMissionChanged = "missions.changed"

// MissionEvent is the payload published on SubjectMissionChanged.
type MissionEvent struct {
	MissionID int64     `json:"mission_id"`
	Origin    string    `json:"origin"`
	At        time.Time `json:"at"`
}

// NATS publishes and receives mission change events.
type NATS struct {
	conn   *nats.Conn
	origin string
	logger *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("interop-missions"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATS{conn: conn, origin: processOrigin(), logger: logger}, nil
}

// MissionChanged publishes a change event for missionID.
func (n *NATS) MissionChanged(_ context.Context, missionID int64) error {
	data, err := json.Marshal(MissionEvent{MissionID: missionID, Origin: n.origin, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return n.conn.Publish(SubjectMissionChanged, data)
}

// OnMissionChanged calls fn for every change event published by another
// process.
func (n *NATS) OnMissionChanged(fn func(MissionEvent)) (*nats.Subscription, error) {
	return n.conn.Subscribe(SubjectMissionChanged, func(msg *nats.Msg) {
		n.dispatch(msg, fn)
	})
}

func (n *NATS) dispatch(msg *nats.Msg, fn func(MissionEvent)) {
	var ev MissionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		n.logger.Warn("dropping malformed mission event", slog.String("subject", msg.Subject), slog.Any("error", err))
		return
	}
	if ev.Origin == n.origin {
		return
	}
	fn(ev)
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

func processOrigin() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
