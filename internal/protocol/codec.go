package protocol

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket subprotocols, one per codec.
const (
	SubprotocolJSON    = "liveroom.v1.json"
	SubprotocolMsgpack = "liveroom.v1.msgpack"
)

// Codec turns messages into frames and back.
type Codec interface {
	// Subprotocol is the WebSocket subprotocol that selects this codec.
	Subprotocol() string
	// Binary reports whether frames are sent as binary rather than text.
	Binary() bool
	Marshal(msg *Message) ([]byte, error)
	Unmarshal(data []byte, msg *Message) error
}

type jsonCodec struct{}

func (jsonCodec) Subprotocol() string                       { return SubprotocolJSON }
func (jsonCodec) Binary() bool                              { return false }
func (jsonCodec) Marshal(msg *Message) ([]byte, error)      { return json.Marshal(msg) }
func (jsonCodec) Unmarshal(data []byte, msg *Message) error { return json.Unmarshal(data, msg) }

type msgpackCodec struct{}

func (msgpackCodec) Subprotocol() string                  { return SubprotocolMsgpack }
func (msgpackCodec) Binary() bool                         { return true }
func (msgpackCodec) Marshal(msg *Message) ([]byte, error) { return msgpack.Marshal(msg) }
func (msgpackCodec) Unmarshal(data []byte, msg *Message) error {
	return msgpack.Unmarshal(data, msg)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// Subprotocols lists the supported subprotocols in server preference order.
func Subprotocols() []string {
	return []string{SubprotocolMsgpack, SubprotocolJSON}
}

// CodecFor returns the codec for a negotiated subprotocol. Browsers that
// negotiate nothing get JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return Msgpack
	}
	return JSON
}
