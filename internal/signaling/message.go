package signaling

import "encoding/json"

// Client -> server events.
const (
	EventJoin         = "join"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
)

// Server -> client events.
const (
	EventExistingMembers = "existing-members"
	EventPeerJoined      = "peer-joined"
	EventPeerLeft        = "peer-left"
)

// Envelope is the tagged WebSocket message. Data is decoded per Event before
// dispatch; unknown events are ignored.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the data for a join event.
type JoinPayload struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

// SignalPayload is the data for offer, answer and ice-candidate events sent by
// a client. Target addresses a connection in the sender's room.
type SignalPayload struct {
	Target    string          `json:"target"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ForwardedSignal is a relayed offer/answer/ice-candidate, tagged with the
// sender's connection id. The payload is forwarded untouched.
type ForwardedSignal struct {
	Sender    string          `json:"sender"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Member identifies one connection in a room.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// newEnvelope marshals payload into an Envelope for event.
func newEnvelope(event string, payload interface{}) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Event: event, Data: data}
}

// Notice builds an envelope for server-originated notifications delivered
// through the hub, e.g. recording completion.
func Notice(event string, payload interface{}) Envelope {
	return newEnvelope(event, payload)
}
