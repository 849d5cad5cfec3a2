package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/smukkama/demand-monitor/internal/restrictions"
)

// NewDigests groups events and border changes into one digest per country,
// ordered by country code. Border changes are attached to the destination
// country, whose entry rules they describe.
func NewDigests(runID string, reference time.Time, events []restrictions.ChangeEvent, borders []BorderChange) []*ChangeDigest {
	byCountry := make(map[string]*ChangeDigest)
	get := func(code string) *ChangeDigest {
		d, ok := byCountry[code]
		if !ok {
			d = &ChangeDigest{Type: MsgTypeChangeDigest, RunID: runID, Country: code, ReferenceDate: reference}
			byCountry[code] = d
		}
		return d
	}
	for _, e := range events {
		d := get(e.Country)
		d.Events = append(d.Events, e)
	}
	for _, b := range borders {
		d := get(b.Destination)
		d.Borders = append(d.Borders, b)
	}

	codes := make([]string, 0, len(byCountry))
	for code := range byCountry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]*ChangeDigest, len(codes))
	for i, code := range codes {
		out[i] = byCountry[code]
	}
	return out
}

// EncodeChangeDigest encodes a ChangeDigest to JSON
func EncodeChangeDigest(msg *ChangeDigest) ([]byte, error) {
	msg.Type = MsgTypeChangeDigest
	return json.Marshal(msg)
}

// DecodeChangeDigest decodes JSON to ChangeDigest
func DecodeChangeDigest(data []byte) (*ChangeDigest, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	digest, ok := msg.(*ChangeDigest)
	if !ok {
		return nil, fmt.Errorf("expected %s message, got %T", MsgTypeChangeDigest, msg)
	}
	return digest, nil
}

// EncodeRunSummary encodes a RunSummary to JSON
func EncodeRunSummary(msg *RunSummary) ([]byte, error) {
	msg.Type = MsgTypeRunSummary
	return json.Marshal(msg)
}

// DecodeRunSummary decodes JSON to RunSummary
func DecodeRunSummary(data []byte) (*RunSummary, error) {
	var msg RunSummary
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
