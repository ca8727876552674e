package live

import (
	"encoding/json"
	"fmt"

	"github.com/gobwas/ws"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes frames for one connection.
type Codec interface {
	Encode(f *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)

	// Name is the value accepted by the format query parameter.
	Name() string

	// OpCode is the WebSocket message type carrying encoded frames.
	OpCode() ws.OpCode
}

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecFor resolves a format query value. An empty name selects JSON.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("live: unsupported format %q", name)
}

// JSONCodec encodes frames as JSON text messages.
type JSONCodec struct{}

func (JSONCodec) Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }

func (JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (JSONCodec) Name() string      { return CodecJSON }
func (JSONCodec) OpCode() ws.OpCode { return ws.OpText }

// MsgpackCodec encodes frames as MessagePack binary messages.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(f *Frame) ([]byte, error) { return msgpack.Marshal(f) }

func (MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (MsgpackCodec) Name() string      { return CodecMsgpack }
func (MsgpackCodec) OpCode() ws.OpCode { return ws.OpBinary }

// invalidMessage is the error text sent for an undecodable inbound frame.
func invalidMessage(c Codec) string {
	if c.Name() == CodecJSON {
		return "Invalid JSON"
	}
	return "Invalid " + c.Name()
}
