package sentry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeHeader is the first line of a serialized envelope.
type EnvelopeHeader struct {
	SentAt time.Time               `json:"sent_at"`
	Dsn    string                  `json:"dsn,omitempty"`
	Sdk    *SdkInfo                `json:"sdk,omitempty"`
	Trace  *DynamicSamplingContext `json:"trace,omitempty"`
}

// EnvelopeItemType enumerates the item types recognized by Sentry's ingest.
type EnvelopeItemType string

const (
	envelopeItemEvent            EnvelopeItemType = "event"
	envelopeItemTransaction      EnvelopeItemType = "transaction"
	envelopeItemSession          EnvelopeItemType = "session"
	envelopeItemSessions         EnvelopeItemType = "sessions"
	envelopeItemAttachment       EnvelopeItemType = "attachment"
	envelopeItemSpan             EnvelopeItemType = "span"
	envelopeItemClientReport     EnvelopeItemType = "client_report"
	envelopeItemReplayEvent      EnvelopeItemType = "replay_event"
	envelopeItemReplayRecording  EnvelopeItemType = "replay_recording"
	envelopeItemCheckIn          EnvelopeItemType = "check_in"
	envelopeItemFeedback         EnvelopeItemType = "feedback"
	envelopeItemProfile          EnvelopeItemType = "profile"
	envelopeItemStatsd           EnvelopeItemType = "statsd"
)

// EnvelopeItemHeader is the JSON line preceding an item's payload. Length is
// filled in automatically by AddItem (and again by Serialize) based on the
// serialized payload size.
type EnvelopeItemHeader struct {
	Type           EnvelopeItemType `json:"type"`
	Length         int              `json:"length,omitempty"`
	Filename       string           `json:"filename,omitempty"`
	ContentType    string           `json:"content_type,omitempty"`
	AttachmentType string           `json:"attachment_type,omitempty"`
}

// EnvelopeItem is one line pair: a header line followed by a payload, which
// may be a JSON value or a raw byte string.
type EnvelopeItem struct {
	Header  EnvelopeItemHeader
	Payload []byte
}

// Envelope is the outermost wire container: headers followed by zero or more
// items, line-delimited.
type Envelope struct {
	Header EnvelopeHeader
	Items  []EnvelopeItem
}

func NewEnvelope(header EnvelopeHeader) *Envelope {
	if header.SentAt.IsZero() {
		header.SentAt = now()
	}
	return &Envelope{Header: header}
}

func (e *Envelope) AddItem(itemType EnvelopeItemType, payload []byte) {
	e.Items = append(e.Items, EnvelopeItem{
		Header: EnvelopeItemHeader{
			Type:   itemType,
			Length: len(payload),
		},
		Payload: payload,
	})
}

func (e *Envelope) AddEventItem(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	itemType := envelopeItemEvent
	if event.Type == transactionType {
		itemType = envelopeItemTransaction
	}
	e.AddItem(itemType, payload)
	return nil
}

func (e *Envelope) AddSpanItem(span *Span) error {
	payload, err := json.Marshal(span)
	if err != nil {
		return err
	}
	e.AddItem(envelopeItemSpan, payload)
	return nil
}

func (e *Envelope) AddSessionItem(session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	e.AddItem(envelopeItemSession, payload)
	return nil
}

func (e *Envelope) AddAttachmentItem(a *Attachment) {
	e.Items = append(e.Items, EnvelopeItem{
		Header: EnvelopeItemHeader{
			Type:           envelopeItemAttachment,
			Length:         len(a.Payload),
			Filename:       a.Filename,
			ContentType:    a.ContentType,
			AttachmentType: "event.attachment",
		},
		Payload: a.Payload,
	})
}

// ClientReportPayload is the payload of a client_report item: an aggregate
// count of events the SDK chose not to send, grouped by (reason, category).
type ClientReportPayload struct {
	Timestamp       time.Time        `json:"timestamp"`
	DiscardedEvents []DiscardedEvent `json:"discarded_events"`
}

type DiscardedEvent struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

func (e *Envelope) AddClientReportItem(report ClientReportPayload) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	e.AddItem(envelopeItemClientReport, payload)
	return nil
}

// Serialize renders the envelope as a JSON header line, then for each item a
// JSON header line followed by the raw payload bytes and a trailing newline.
// Binary payloads are written as-is (not re-escaped as JSON strings), the
// wire format attachments and spans-as-bytes both rely on.
func (e *Envelope) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	headerBytes, err := json.Marshal(e.Header)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope header: %w", err)
	}
	buf.Write(headerBytes)
	buf.WriteByte('\n')

	for _, item := range e.Items {
		item.Header.Length = len(item.Payload)
		itemHeaderBytes, err := json.Marshal(item.Header)
		if err != nil {
			return nil, fmt.Errorf("marshal item header: %w", err)
		}
		buf.Write(itemHeaderBytes)
		buf.WriteByte('\n')
		buf.Write(item.Payload)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}
