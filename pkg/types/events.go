package types

import "encoding/json"

// Wire event names. Inbound events come from clients; outbound events are
// pushed by the server.
const (
	EventJoinPoll   = "join_poll"
	EventVote       = "vote"
	EventPollUpdate = "poll_update"
	EventVoteError  = "vote_error"
	EventJoinError  = "join_error"
	EventError      = "error"
)

// Envelope is the JSON frame exchanged over the WebSocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is the server-to-client frame. Data is marshalled as-is.
type OutboundMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// PollUpdate wraps a snapshot in a poll_update frame.
func PollUpdate(snapshot *PollSnapshot) *OutboundMessage {
	return &OutboundMessage{Event: EventPollUpdate, Data: snapshot}
}

// VoteError builds the unicast rejection frame for a vote.
func VoteError(reason Reason) *OutboundMessage {
	return &OutboundMessage{Event: EventVoteError, Data: reason}
}

// JoinError builds the unicast rejection frame for a join.
func JoinError(reason Reason) *OutboundMessage {
	return &OutboundMessage{Event: EventJoinError, Data: reason}
}

// ProtocolError builds the frame sent for malformed or unknown input.
func ProtocolError(reason Reason) *OutboundMessage {
	return &OutboundMessage{Event: EventError, Data: reason}
}
