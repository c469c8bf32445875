package envelope

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemType identifies the payload kind carried by an envelope item.
type ItemType string

const (
	ItemTypeSessions ItemType = "sessions"
	ItemTypeSession  ItemType = "session"
)

// SDKInfo identifies the reporting client.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DefaultSDK returns the SDK info reported when none is configured.
func DefaultSDK() SDKInfo {
	return SDKInfo{Name: "pulse.go", Version: "0.1.0"}
}

// Header is the first line of an envelope.
type Header struct {
	EventID string   `json:"event_id,omitempty"`
	SentAt  string   `json:"sent_at"`
	SDK     *SDKInfo `json:"sdk,omitempty"`
}

type itemHeader struct {
	Type   ItemType `json:"type"`
	Length int      `json:"length"`
}

// Item is one typed payload inside an envelope.
type Item struct {
	Type    ItemType
	Payload []byte
}

// Envelope is the outbound container for one or more items. It is encoded as
// newline-delimited JSON: the envelope header, then a header and a payload
// line per item.
type Envelope struct {
	Header Header
	Items  []Item
}

// New creates an empty envelope stamped with sentAt.
func New(sdk SDKInfo, sentAt time.Time) *Envelope {
	return &Envelope{
		Header: Header{
			EventID: strings.ReplaceAll(uuid.NewString(), "-", ""),
			SentAt:  FormatTime(sentAt),
			SDK:     &sdk,
		},
	}
}

// AddAggregates appends a sessions item.
func (e *Envelope) AddAggregates(p Aggregates) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregates: %w", err)
	}
	e.Items = append(e.Items, Item{Type: ItemTypeSessions, Payload: data})
	return nil
}

// AddSession appends a single session item.
func (e *Envelope) AddSession(r SessionRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	e.Items = append(e.Items, Item{Type: ItemTypeSession, Payload: data})
	return nil
}

// Encode writes the envelope to w.
func (e *Envelope) Encode(w io.Writer) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte('\n')

	for _, item := range e.Items {
		ih, err := json.Marshal(itemHeader{Type: item.Type, Length: len(item.Payload)})
		if err != nil {
			return fmt.Errorf("failed to marshal item header: %w", err)
		}
		buf.Write(ih)
		buf.WriteByte('\n')
		buf.Write(item.Payload)
		buf.WriteByte('\n')
	}

	_, err = w.Write(buf.Bytes())
	return err
}

// Bytes returns the encoded envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses an envelope previously written by Encode.
func Decode(r io.Reader) (*Envelope, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read envelope header: %w", err)
		}
		return nil, fmt.Errorf("empty envelope")
	}

	env := &Envelope{}
	if err := json.Unmarshal(scanner.Bytes(), &env.Header); err != nil {
		return nil, fmt.Errorf("invalid envelope header: %w", err)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var ih itemHeader
		if err := json.Unmarshal(line, &ih); err != nil {
			return nil, fmt.Errorf("invalid item header: %w", err)
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("missing payload for %s item", ih.Type)
		}

		payload := append([]byte(nil), scanner.Bytes()...)
		if ih.Length != len(payload) {
			return nil, fmt.Errorf("%s item length mismatch: header says %d, got %d", ih.Type, ih.Length, len(payload))
		}
		env.Items = append(env.Items, Item{Type: ih.Type, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}

	return env, nil
}
