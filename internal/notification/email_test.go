package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/protocol"
	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/pkg/config"
)

var ref = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func digest() *protocol.ChangeDigest {
	return &protocol.ChangeDigest{
		RunID: "run-1", Country: "FR", CountryName: "France", ReferenceDate: ref,
		Events: []restrictions.ChangeEvent{{
			Country: "FR", Date: ref.AddDate(0, 0, -3), Column: "C8_International travel controls",
			Previous: "Screening arrivals", Current: "Ban arrivals from some regions",
			Type: restrictions.MoreRestrictive, Magnitude: 2,
		}},
		Borders: []protocol.BorderChange{{Origin: "US", Destination: "FR", Current: restrictions.Closed}},
	}
}

func TestRenderDigest(t *testing.T) {
	body, err := Render(digest())
	require.NoError(t, err)
	assert.Contains(t, body, "Country: France (FR)")
	assert.Contains(t, body, "- 2020-05-29 C8_International travel controls: Screening arrivals -> Ban arrivals from some regions (More restrictive, +2)")
	assert.Contains(t, body, "- Arrivals from US: unknown -> Closed")

	assert.Equal(t, "Restriction changes - France (FR): 1 policy change, 1 border change", Subject(digest()))
}

func TestSendDigest(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "monitor@example.com", To: "a@example.com, b@example.com"}

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n := NewEmailNotifier(cfg).WithSender(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	})
	require.NoError(t, n.SendDigest(digest()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: monitor@example.com\r\n"))
	assert.Contains(t, gotMsg, "Subject: Restriction changes - France (FR)")

	n.WithSender(func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") })
	assert.Error(t, n.SendDigest(digest()))
}

func TestSendDigestSkips(t *testing.T) {
	called := false
	send := func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	unconfigured := NewEmailNotifier(&config.SMTPConfig{}).WithSender(send)
	require.NoError(t, unconfigured.SendDigest(digest()))

	configured := NewEmailNotifier(&config.SMTPConfig{Username: "u", Password: "p"}).WithSender(send)
	require.NoError(t, configured.SendDigest(&protocol.ChangeDigest{RunID: "run-1", Country: "FR"}))
	assert.False(t, called)
}

func TestDeliverDigestRetriesUntilSent(t *testing.T) {
	calls := 0
	n := NewEmailNotifier(&config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "a@example.com", To: "b@example.com"}).
		WithSender(func(string, smtp.Auth, string, []string, []byte) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})

	err := n.DeliverDigest(context.Background(), digest(), Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDeliverDigestStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	n := NewEmailNotifier(&config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "a@example.com", To: "b@example.com"}).
		WithSender(func(string, smtp.Auth, string, []string, []byte) error {
			calls++
			if calls == 2 {
				cancel()
			}
			return errors.New("connection refused")
		})

	err := n.DeliverDigest(ctx, digest(), Backoff{Initial: time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}
