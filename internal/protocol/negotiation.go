package protocol

import "fmt"

// NegotiationKind tags the three kinds of connection-setup payloads.
type NegotiationKind uint8

const (
	KindOffer NegotiationKind = iota + 1
	KindAnswer
	KindCandidate
)

func (k NegotiationKind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type returns the wire message type used to carry this kind.
func (k NegotiationKind) Type() Type {
	switch k {
	case KindOffer:
		return TypeOffer
	case KindAnswer:
		return TypeAnswer
	case KindCandidate:
		return TypeICECandidate
	}
	return ""
}

// Negotiation is an addressed offer, answer or candidate. Data is opaque.
type Negotiation struct {
	Kind NegotiationKind
	From string
	To   string
	Data Payload
}

// NegotiationFrom extracts the negotiation carried by msg, if any.
func NegotiationFrom(msg *Message) (Negotiation, bool) {
	n := Negotiation{From: msg.Caller, To: msg.Target}
	switch msg.Type {
	case TypeOffer:
		n.Kind, n.Data = KindOffer, msg.SDP
	case TypeAnswer:
		n.Kind, n.Data = KindAnswer, msg.SDP
	case TypeICECandidate:
		n.Kind, n.Data = KindCandidate, msg.Candidate
	default:
		return Negotiation{}, false
	}
	return n, true
}

// Message wraps n in a wire envelope for roomID.
func (n Negotiation) Message(roomID string) *Message {
	msg := &Message{
		Type:   n.Kind.Type(),
		RoomID: roomID,
		Target: n.To,
		Caller: n.From,
	}
	if n.Kind == KindCandidate {
		msg.Candidate = n.Data
	} else {
		msg.SDP = n.Data
	}
	return msg
}
