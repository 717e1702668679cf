package core

import "encoding/json"

// Envelope is the wire form of every message in both directions.
// A client event carrying Ack gets exactly one EventAck reply with the same id.
type Envelope struct {
	Type    string          `json:"type"`
	Ack     string          `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server.
const (
	EventJoinRoom             = "joinRoom"
	EventNewOffer             = "newOffer"
	EventNewAnswer            = "newAnswer"
	EventSendIceCandidate     = "sendIceCandidateToSignalingServer"
	EventEndRoom              = "endRoom"
	EventTranscriptionConnect = "transcription:connect"
	EventTranscriptionSend    = "transcription:send"
	EventTranscriptionClose   = "transcription:disconnect"
	EventSendTranscription    = "sendTranscriptionToPeer"
	EventPing                 = "ping"
)

// Server to client.
const (
	EventAck                     = "ack"
	EventError                   = "error"
	EventPong                    = "pong"
	EventAvailableOffers         = "availableOffers"
	EventParticipantJoined       = "participantJoined"
	EventRoomEnded               = "roomEnded"
	EventNewOfferAwaiting        = "newOfferAwaiting"
	EventAnswerResponse          = "answerResponse"
	EventReceivedIceCandidate    = "receivedIceCandidateFromServer"
	EventTranscriptionMessage    = "transcription:message"
	EventTranscriptionError      = "transcription:error"
	EventTranscriptionDisconnect = "transcription:disconnected"
	EventReceiveTranscription    = "receiveTranscriptionFromPeer"
)

// Encode marshals an outbound message. An empty ack id is omitted.
func Encode(event, ack string, payload any) (Frame, error) {
	env := Envelope{Type: event, Ack: ack}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
