package bus

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	apperrors "github.com/noah-isme/sma-timetable-agents/pkg/errors"
)

// Performative enumerates the FIPA speech acts used on the bus.
type Performative string

const (
	CFP            Performative = "CFP"
	Propose        Performative = "PROPOSE"
	Refuse         Performative = "REFUSE"
	AcceptProposal Performative = "ACCEPT_PROPOSAL"
	RejectProposal Performative = "REJECT_PROPOSAL"
	Inform         Performative = "INFORM"
	Cancel         Performative = "CANCEL"
	QueryRef       Performative = "QUERY_REF"
)

// Protocol identifies the interaction pattern a message belongs to.
type Protocol string

const (
	ProtocolContractNet   Protocol = "contract-net"
	ProtocolSystemControl Protocol = "system-control"
)

// Ontology labels the message subject matter.
type Ontology string

const (
	OntologyClassroomAvailability Ontology = "classroom-availability"
	OntologyRoomAssignment        Ontology = "room-assignment"
	OntologyAgentStatus           Ontology = "agent-status"
	OntologySystemControl         Ontology = "system-control"
)

// Conversation ids used by the turn controller.
const (
	ConversationNegotiationStart     = "negotiation-start"
	ConversationNegotiationStartBase = "negotiation-start-base"
)

// MetaNextOrder is the metadata key carrying the turn token target.
const MetaNextOrder = "next_order"

// Envelope is one point-to-point message. The body is raw JSON; decoding
// errors are the receiver's problem and are dropped per protocol.
type Envelope struct {
	MessageID      string
	Performative   Performative
	Protocol       Protocol
	Ontology       Ontology
	ConversationID string
	CorrelationID  string
	Sender         string
	Receiver       string
	Metadata       map[string]string
	Body           []byte
	SentAt         time.Time
}

// NewEnvelope stamps a fresh message id and send time.
func NewEnvelope(performative Performative, sender, receiver string) Envelope {
	return Envelope{
		MessageID:    uuid.NewString(),
		Performative: performative,
		Sender:       sender,
		Receiver:     receiver,
		SentAt:       time.Now().UTC(),
	}
}

// WithBody marshals v into the envelope body.
func (e Envelope) WithBody(v interface{}) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return e, apperrors.Wrap(err, apperrors.ErrMalformedBody.Code, "encode message body")
	}
	e.Body = raw
	return e, nil
}

// Decode unmarshals the body into v.
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrMalformedBody.Code, apperrors.ErrMalformedBody.Message)
	}
	return nil
}

// Meta returns the metadata value for key, or "".
func (e Envelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// WithMeta returns a copy of the envelope carrying the metadata pair.
func (e Envelope) WithMeta(key, value string) Envelope {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// NewCorrelationID mints a per-round correlation id (the rtt-id of the wire
// format).
func NewCorrelationID() string {
	return uuid.NewString()
}
