package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

type messageType string

const (
	// Client -> server.
	messageTypeJoinRoom     messageType = "join_room"
	messageTypeLeaveRoom    messageType = "leave_room"
	messageTypeOffer        messageType = "offer"
	messageTypeAnswer       messageType = "answer"
	messageTypeICECandidate messageType = "ice_candidate"
	messageTypeHangup       messageType = "hangup"

	// Server -> client.
	messageTypeRoomUsers  messageType = "room_users"
	messageTypeUserJoined messageType = "user_joined"
	messageTypeUserLeft   messageType = "user_left"
)

var errUnknownMessageType = errors.New("unknown message type")

func isUnknownType(err error) bool {
	return errors.Is(err, errUnknownMessageType)
}

// signalMessage is the inbound wire envelope. The offer/answer/candidate
// payloads are opaque to the relay and forwarded byte for byte.
type signalMessage struct {
	Type      messageType     `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	ToUser    string          `json:"to_user,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// parseSignalMessage decodes and validates an inbound frame. Unknown top-level
// fields are tolerated so older relays keep working with newer clients; an
// unrecognized type is reported as errUnknownMessageType.
func parseSignalMessage(data []byte) (signalMessage, error) {
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return signalMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return signalMessage{}, err
	}
	return msg, nil
}

func (m signalMessage) validate() error {
	if m.Type == "" {
		return fmt.Errorf("missing type")
	}
	switch m.Type {
	case messageTypeJoinRoom, messageTypeLeaveRoom, messageTypeHangup:
		if m.RoomID == "" {
			return fmt.Errorf("%s message missing room_id", m.Type)
		}
	case messageTypeOffer:
		if m.RoomID == "" {
			return fmt.Errorf("offer message missing room_id")
		}
		if len(m.Offer) == 0 {
			return fmt.Errorf("offer message missing offer")
		}
	case messageTypeAnswer:
		if m.RoomID == "" {
			return fmt.Errorf("answer message missing room_id")
		}
		if len(m.Answer) == 0 {
			return fmt.Errorf("answer message missing answer")
		}
	case messageTypeICECandidate:
		if m.RoomID == "" {
			return fmt.Errorf("ice_candidate message missing room_id")
		}
		if len(m.Candidate) == 0 {
			return fmt.Errorf("ice_candidate message missing candidate")
		}
	default:
		return fmt.Errorf("%w %q", errUnknownMessageType, m.Type)
	}
	return nil
}

type roomUsersMessage struct {
	Type   messageType `json:"type"`
	RoomID string      `json:"room_id"`
	// Users always marshals as a JSON array, [] when the room was empty.
	Users []string `json:"users"`
}

type membershipMessage struct {
	Type   messageType `json:"type"`
	RoomID string      `json:"room_id"`
	UserID string      `json:"user_id"`
}

// relayMessage is the outbound envelope for forwarded signaling. It is the
// inbound message re-stamped with the sender's identity.
type relayMessage struct {
	Type      messageType     `json:"type"`
	RoomID    string          `json:"room_id"`
	FromUser  string          `json:"from_user"`
	ToUser    string          `json:"to_user,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func marshalRoomUsers(roomID string, users []string) ([]byte, error) {
	if users == nil {
		users = make([]string, 0)
	}
	return json.Marshal(roomUsersMessage{
		Type:   messageTypeRoomUsers,
		RoomID: roomID,
		Users:  users,
	})
}

func marshalUserJoined(roomID, userID string) ([]byte, error) {
	return json.Marshal(membershipMessage{
		Type:   messageTypeUserJoined,
		RoomID: roomID,
		UserID: userID,
	})
}

func marshalUserLeft(roomID, userID string) ([]byte, error) {
	return json.Marshal(membershipMessage{
		Type:   messageTypeUserLeft,
		RoomID: roomID,
		UserID: userID,
	})
}

func marshalRelay(msg signalMessage, fromUser string) ([]byte, error) {
	return json.Marshal(relayMessage{
		Type:      msg.Type,
		RoomID:    msg.RoomID,
		FromUser:  fromUser,
		ToUser:    msg.ToUser,
		Offer:     msg.Offer,
		Answer:    msg.Answer,
		Candidate: msg.Candidate,
	})
}
