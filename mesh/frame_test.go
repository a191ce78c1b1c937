package mesh

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Packet{From: "!deadbeef", Text: "hello"}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecoderResyncsOverGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0xff, magic0, 0x01, 0x42}) // noise, incl. a false start
	if err := WriteFrame(&buf, Packet{From: "a", Text: "first"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	buf.WriteString("more line noise")
	if err := WriteFrame(&buf, Packet{From: "b", Text: "second"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	dec := NewDecoder(&buf)
	for i, want := range []string{"first", "second"} {
		pkt, err := dec.Next()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if pkt.Text != want {
			t.Errorf("packet %d: got %q, want %q", i, pkt.Text, want)
		}
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("got %v after stream end, want EOF", err)
	}
}

func TestDecoderSkipsBadLengthAndBadJson(t *testing.T) {
	var buf bytes.Buffer

	// valid header with an absurd length
	buf.Write([]byte{magic0, magic1})
	var lenbuf [2]byte
	binary.BigEndian.PutUint16(lenbuf[:], maxFrameLen+1)
	buf.Write(lenbuf[:])

	// valid framing around a payload that is not json
	payload := []byte("{broken")
	buf.Write([]byte{magic0, magic1})
	binary.BigEndian.PutUint16(lenbuf[:], uint16(len(payload)))
	buf.Write(lenbuf[:])
	buf.Write(payload)

	if err := WriteFrame(&buf, Packet{From: "c", Text: "survivor"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	pkt, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pkt.Text != "survivor" {
		t.Errorf("got %q, want the frame after the malformed ones", pkt.Text)
	}
}

func TestDecoderHandlesRepeatedStartByte(t *testing.T) {
	var buf bytes.Buffer
	// magic0 magic0 magic1 must still find the frame start
	buf.WriteByte(magic0)
	if err := WriteFrame(&buf, Packet{From: "d", Text: "found"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	pkt, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pkt.Text != "found" {
		t.Errorf("got %q, want %q", pkt.Text, "found")
	}
}

func TestWriteFrameRejectsOversizedPacket(t *testing.T) {
	big := make([]byte, maxFrameLen)
	for i := range big {
		big[i] = 'x'
	}
	err := WriteFrame(io.Discard, Packet{From: "e", Text: string(big)})
	if err == nil {
		t.Error("got nil, want error for oversized packet")
	}
}
