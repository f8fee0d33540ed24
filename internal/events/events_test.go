package events

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	subject string
	data    []byte
}

func recordingPublisher(fail error) (*NATS, *[]sent, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	var out []sent
	p := &NATS{
		log: logger,
		send: func(subject string, data []byte) error {
			if fail != nil {
				return fail
			}
			out = append(out, sent{subject, data})
			return nil
		},
	}
	return p, &out, hook
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "ftpbridge.uploaded", Subject(Uploaded))
	assert.Equal(t, "ftpbridge.deleted", Subject(Deleted))
	assert.Equal(t, "ftpbridge.downloaded", Subject(Downloaded))
}

func TestPublishEncodesEvent(t *testing.T) {
	p, out, _ := recordingPublisher(nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Publish(Event{Kind: Uploaded, Server: "127.0.0.1:2121", User: "u1", File: "a.jpg", Size: 10000, Time: at})

	require.Len(t, *out, 1)
	assert.Equal(t, "ftpbridge.uploaded", (*out)[0].subject)
	assert.JSONEq(t, `{"kind":"uploaded","server":"127.0.0.1:2121","userId":"u1","filename":"a.jpg","size":10000,"time":"2024-05-01T12:00:00Z"}`, string((*out)[0].data))
	p.Close()
}

func TestPublishStampsTime(t *testing.T) {
	p, out, _ := recordingPublisher(nil)
	p.Publish(Event{Kind: Deleted, User: "u1", File: "a.jpg"})

	require.Len(t, *out, 1)
	var ev Event
	require.NoError(t, json.Unmarshal((*out)[0].data, &ev))
	assert.WithinDuration(t, time.Now(), ev.Time, time.Minute)
	assert.Zero(t, ev.Size)
}

func TestPublishFailureIsLogged(t *testing.T) {
	p, out, hook := recordingPublisher(errors.New("nats: connection closed"))
	p.Publish(Event{Kind: Downloaded, User: "u1", File: "a.jpg"})

	assert.Empty(t, *out)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "could not publish event", hook.LastEntry().Message)
}

func TestConnectWithoutURLIsNop(t *testing.T) {
	p, err := Connect("", nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)
	p.Publish(Event{Kind: Uploaded})
	p.Close()
}

func TestConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	logger, _ := logtest.NewNullLogger()
	_, err = Connect("nats://"+addr, logger)
	assert.ErrorContains(t, err, "failed to connect to nats")
}
