package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/restrictions"
)

var ref = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func TestNewDigestsGroupsByCountry(t *testing.T) {
	events := []restrictions.ChangeEvent{
		{Country: "US", Date: ref, Column: "C8", Previous: "Screening", Current: "Ban", Type: restrictions.MoreRestrictive, Magnitude: 2},
		{Country: "FR", Date: ref, Column: "C8", Previous: "Ban", Current: "Screening", Type: restrictions.LessRestrictive, Magnitude: -2},
		{Country: "US", Date: ref, Column: "C2", Previous: "None", Current: "Recommended", Type: restrictions.MoreRestrictive, Magnitude: 1},
	}
	borders := []BorderChange{{Origin: "US", Destination: "DE", Previous: restrictions.Open, Current: restrictions.Closed}}

	digests := NewDigests("run-1", ref, events, borders)
	require.Len(t, digests, 3)
	assert.Equal(t, "DE", digests[0].Country)
	assert.Len(t, digests[0].Borders, 1)
	assert.Empty(t, digests[0].Events)
	assert.Equal(t, "FR", digests[1].Country)
	assert.Equal(t, "US", digests[2].Country)
	assert.Len(t, digests[2].Events, 2)
	assert.Equal(t, "C8", digests[2].Events[0].Column, "event order is kept")
	assert.False(t, digests[2].Empty())
}

func TestChangeDigestRoundTrip(t *testing.T) {
	d := &ChangeDigest{RunID: "run-1", Country: "FR", CountryName: "France", ReferenceDate: ref,
		Events: []restrictions.ChangeEvent{{Country: "FR", Date: ref, Column: "C8", Previous: "Ban", Current: "Screening", Type: restrictions.LessRestrictive, Magnitude: -2}},
	}
	data, err := EncodeChangeDigest(d)
	require.NoError(t, err)

	got, err := DecodeChangeDigest(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestParseMessageRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"unknown type", `{"type":"metrics"}`},
		{"digest without country", `{"type":"change_digest","run_id":"r"}`},
		{"digest without run", `{"type":"change_digest","country_code":"FR"}`},
		{"foreign event", `{"type":"change_digest","run_id":"r","country_code":"FR","events":[{"country_code":"US"}]}`},
		{"summary without run", `{"type":"run_summary"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := DecodeChangeDigest([]byte(`{"type":"run_summary","run_id":"r"}`))
	assert.Error(t, err)
}

func TestRunSummaryRoundTrip(t *testing.T) {
	s := &RunSummary{RunID: "run-1", Command: "run", ReferenceTime: ref, Status: "succeeded", Counts: map[string]int{"markets": 3}}
	data, err := EncodeRunSummary(s)
	require.NoError(t, err)

	msg, err := ParseMessage(data)
	require.NoError(t, err)
	got, ok := msg.(*RunSummary)
	require.True(t, ok)
	assert.Equal(t, MsgTypeRunSummary, got.Type)
	assert.Equal(t, 3, got.Counts["markets"])
}
