// Package events publishes file transfer events to NATS so that other
// services, such as the metadata store, can follow what the bridge did.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Kind of a transfer event.
type Kind string

const (
	Uploaded   Kind = "uploaded"
	Deleted    Kind = "deleted"
	Downloaded Kind = "downloaded"
)

// SubjectPrefix is prepended to the event kind to form the NATS subject.
const SubjectPrefix = "ftpbridge."

// Subject returns the NATS subject events of kind are published on.
func Subject(kind Kind) string {
	return SubjectPrefix + string(kind)
}

// Event describes one file that was stored, removed or served.
type Event struct {
	Kind   Kind      `json:"kind"`
	Server string    `json:"server"`
	User   string    `json:"userId"`
	File   string    `json:"filename"`
	Size   int64     `json:"size,omitempty"`
	Time   time.Time `json:"time"`
}

// Publisher sends events. Publishing never fails the operation that caused
// the event.
type Publisher interface {
	Publish(ev Event)
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close()        {}

// NATS publishes events as JSON on core NATS subjects.
type NATS struct {
	nc   *nats.Conn
	send func(subject string, data []byte) error
	log  logrus.FieldLogger
}

// Connect returns a publisher on the NATS server at url, or Nop when url is
// empty.
func Connect(url string, log logrus.FieldLogger) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name("ftpbridge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &NATS{nc: nc, send: nc.Publish, log: log}, nil
}

func (p *NATS) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	entry := p.log.WithField("kind", ev.Kind).WithField("file", ev.File)
	data, err := json.Marshal(ev)
	if err != nil {
		entry.WithError(err).Warn("could not encode event")
		return
	}
	if err := p.send(Subject(ev.Kind), data); err != nil {
		entry.WithError(err).Warn("could not publish event")
		return
	}
	entry.Debug("event published")
}

// Close flushes pending events and closes the connection.
func (p *NATS) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
