package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/demand-monitor/internal/restrictions"
)

// MessageType represents the type of message
type MessageType string

const (
	MsgTypeChangeDigest MessageType = "change_digest"
	MsgTypeRunSummary   MessageType = "run_summary"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// BorderChange is one bilateral border state that moved between snapshots
type BorderChange struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Previous    string `json:"previous"`
	Current     string `json:"current"`
}

// ChangeDigest carries everything that changed for one country in a run.
// It is keyed by country code on the topic.
type ChangeDigest struct {
	Type          MessageType                `json:"type"`
	RunID         string                     `json:"run_id"`
	Country       string                     `json:"country_code"`
	CountryName   string                     `json:"country_name,omitempty"`
	ReferenceDate time.Time                  `json:"reference_date"`
	Events        []restrictions.ChangeEvent `json:"events,omitempty"`
	Borders       []BorderChange             `json:"border_changes,omitempty"`
}

// Empty reports whether the digest carries no change
func (d *ChangeDigest) Empty() bool {
	return len(d.Events) == 0 && len(d.Borders) == 0
}

// RunSummary is published once per run, keyed by run id
type RunSummary struct {
	Type          MessageType    `json:"type"`
	RunID         string         `json:"run_id"`
	Command       string         `json:"command"`
	ReferenceTime time.Time      `json:"reference_time"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Status        string         `json:"status"`
	Counts        map[string]int `json:"counts,omitempty"`
	Outputs       []string       `json:"outputs,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// ParseMessage parses a JSON document into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeChangeDigest:
		var msg ChangeDigest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid change digest: %w", err)
		}
		if err := validateDigest(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeRunSummary:
		var msg RunSummary
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid run summary: %w", err)
		}
		if msg.RunID == "" {
			return nil, fmt.Errorf("run_id is required")
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

func validateDigest(msg *ChangeDigest) error {
	if msg.Country == "" {
		return fmt.Errorf("country_code is required")
	}
	if msg.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	for _, e := range msg.Events {
		if e.Country != msg.Country {
			return fmt.Errorf("event for %s in digest for %s", e.Country, msg.Country)
		}
	}
	return nil
}
