package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
)

// EventUnit is one normalizable unit extracted from a raw webhook payload.
// The provider's nested envelope is flattened at this boundary so the
// normalizer only ever sees a closed set of shapes.
type EventUnit interface {
	unit()
}

// MessageEvent is an inbound chat message from a contact.
type MessageEvent struct {
	ProviderMessageID string
	From              string
	ProfileName       string
	Type              string
	Body              string
	MediaURL          string
	Caption           string
	Latitude          float64
	Longitude         float64
	Timestamp         time.Time
}

// StatusEvent reports delivery progress for an outbound message.
type StatusEvent struct {
	ProviderMessageID string
	Status            chat.Status
	Timestamp         time.Time
}

// CallEvent carries voice-call lifecycle updates. Transcription events
// arrive one turn at a time while the call is live; the ended event closes
// the call and triggers classification.
type CallEvent struct {
	ProviderCallID  string
	PhoneNumber     string
	Ended           bool
	Turn            *provider.TranscriptTurn
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int
}

func (MessageEvent) unit() {}
func (StatusEvent) unit()  {}
func (CallEvent) unit()    {}

// chatEnvelope mirrors the messaging provider's webhook shape: a list of
// entries, each with changes holding contacts, messages and statuses.
type chatEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
					Image *struct {
						Link    string `json:"link"`
						Caption string `json:"caption"`
					} `json:"image"`
					Location *struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"location"`
				} `json:"messages"`
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// voiceEnvelope mirrors the voice provider's webhook shape: one event per
// delivery with a typed payload.
type voiceEnvelope struct {
	EventType string `json:"event_type"`
	Payload   struct {
		CallControlID string `json:"call_control_id"`
		From          string `json:"from"`
		StartedAt     string `json:"started_at"`
		EndedAt       string `json:"ended_at"`
		Duration      int    `json:"duration_seconds"`
		Transcription *struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"transcription"`
	} `json:"payload"`
}

// DecodeEvents flattens a raw webhook payload into event units. Payloads
// that parse but contain nothing actionable yield an empty slice, not an
// error; structurally invalid JSON is an error the caller records on the
// raw event.
func DecodeEvents(payload []byte) ([]EventUnit, error) {
	var probe struct {
		Object    string `json:"object"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("ingest: malformed payload: %w", err)
	}
	if strings.HasPrefix(probe.EventType, "call.") {
		return decodeVoice(payload)
	}
	return decodeChat(payload)
}

func decodeChat(payload []byte) ([]EventUnit, error) {
	var env chatEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("ingest: malformed chat payload: %w", err)
	}

	var units []EventUnit
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			val := change.Value

			names := make(map[string]string, len(val.Contacts))
			for _, c := range val.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, m := range val.Messages {
				if m.ID == "" || m.From == "" {
					return nil, fmt.Errorf("ingest: message event missing id or sender")
				}
				ev := MessageEvent{
					ProviderMessageID: m.ID,
					From:              m.From,
					ProfileName:       names[m.From],
					Type:              m.Type,
					Timestamp:         unixTimestamp(m.Timestamp),
				}
				switch m.Type {
				case chat.TypeText:
					if m.Text != nil {
						ev.Body = m.Text.Body
					}
				case chat.TypeImage:
					if m.Image != nil {
						ev.MediaURL = m.Image.Link
						ev.Caption = m.Image.Caption
					}
				case chat.TypeLocation:
					if m.Location != nil {
						ev.Latitude = m.Location.Latitude
						ev.Longitude = m.Location.Longitude
					}
				}
				units = append(units, ev)
			}

			// Status values are passed through unvalidated; the
			// normalizer drops unknown ones per unit so one bad status
			// cannot discard sibling events in the same delivery.
			for _, s := range val.Statuses {
				if s.ID == "" {
					continue
				}
				units = append(units, StatusEvent{
					ProviderMessageID: s.ID,
					Status:            chat.Status(s.Status),
					Timestamp:         unixTimestamp(s.Timestamp),
				})
			}
		}
	}
	return units, nil
}

func decodeVoice(payload []byte) ([]EventUnit, error) {
	var env voiceEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("ingest: malformed voice payload: %w", err)
	}
	if env.Payload.CallControlID == "" {
		return nil, fmt.Errorf("ingest: call event missing call_control_id")
	}

	ev := CallEvent{
		ProviderCallID:  env.Payload.CallControlID,
		PhoneNumber:     env.Payload.From,
		DurationSeconds: env.Payload.Duration,
	}
	if t := parseRFC3339(env.Payload.StartedAt); t != nil {
		ev.StartedAt = t
	}
	if t := parseRFC3339(env.Payload.EndedAt); t != nil {
		ev.EndedAt = t
	}

	switch env.EventType {
	case "call.transcription":
		if env.Payload.Transcription == nil || env.Payload.Transcription.Text == "" {
			return nil, fmt.Errorf("ingest: transcription event without text")
		}
		ev.Turn = &provider.TranscriptTurn{
			Role:    env.Payload.Transcription.Role,
			Message: env.Payload.Transcription.Text,
		}
	case "call.ended", "call.hangup":
		ev.Ended = true
	default:
		// Lifecycle events we do not act on (ringing, answered).
		return nil, nil
	}
	return []EventUnit{ev}, nil
}

// unixTimestamp parses the provider's unix-seconds string, falling back to
// now for absent or garbage values.
func unixTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func parseRFC3339(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
