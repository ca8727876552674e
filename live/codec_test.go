package live

import (
	"testing"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/stream"
)

func TestCodecFor(t *testing.T) {
	tests := []struct {
		name string
		want string
		op   ws.OpCode
	}{
		{"", CodecJSON, ws.OpText},
		{"json", CodecJSON, ws.OpText},
		{"msgpack", CodecMsgpack, ws.OpBinary},
	}
	for _, tt := range tests {
		c, err := CodecFor(tt.name)
		if err != nil {
			t.Fatalf("CodecFor(%q): %v", tt.name, err)
		}
		if c.Name() != tt.want || c.OpCode() != tt.op {
			t.Errorf("CodecFor(%q) = %s/%v", tt.name, c.Name(), c.OpCode())
		}
	}
	if _, err := CodecFor("protobuf"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestCodecs_CarryZeroProgress(t *testing.T) {
	evt := &stream.Event{
		JobID:    id.NewJobID(),
		ClientID: uuid.New(),
		Status:   job.StatusQueued,
		Progress: 0,
	}
	for _, c := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		data, err := c.Encode(NewUpdateFrame(evt))
		if err != nil {
			t.Fatalf("%s encode: %v", c.Name(), err)
		}
		f, err := c.Decode(data)
		if err != nil {
			t.Fatalf("%s decode: %v", c.Name(), err)
		}
		if f.Progress == nil || *f.Progress != 0 {
			t.Errorf("%s: progress = %v, want explicit 0", c.Name(), f.Progress)
		}
	}
}

func TestInvalidMessage(t *testing.T) {
	if got := invalidMessage(JSONCodec{}); got != "Invalid JSON" {
		t.Errorf("json = %q", got)
	}
	if got := invalidMessage(MsgpackCodec{}); got != "Invalid msgpack" {
		t.Errorf("msgpack = %q", got)
	}
}

func TestIdentity_CanWatch(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	scoped := &Identity{Clients: []uuid.UUID{a}}
	if !scoped.CanWatch(a) || scoped.CanWatch(b) || scoped.CanWatch(uuid.Nil) {
		t.Error("scoped identity grants the wrong clients")
	}
	global := &Identity{Global: true}
	if !global.CanWatch(uuid.Nil) || !global.CanWatch(b) {
		t.Error("global identity must watch everything")
	}
}
