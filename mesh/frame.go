// Package mesh speaks to a LoRa node over a serial line, framing small
// JSON text packets and keeping the link alive across replugs.
package mesh

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
)

// serial framing: two magic bytes, big-endian payload length, JSON payload
const (
	magic0 = 0x94
	magic1 = 0xC3

	// frames larger than this are treated as line noise
	maxFrameLen = 512
)

// Packet is the JSON payload of one frame on the wire.
type Packet struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// WriteFrame encodes a packet and writes a single frame.
func WriteFrame(w io.Writer, pkt Packet) error {
	payload, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}
	if len(payload) > maxFrameLen {
		return fmt.Errorf("packet too large: %d bytes", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	buf[0] = magic0
	buf[1] = magic1
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	_, err = w.Write(buf)
	return err
}

// Decoder reads frames from a byte stream, skipping over garbage between
// frames until it finds the magic sequence again.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next well-formed packet. Malformed frames are logged
// and skipped; only stream errors are returned.
func (d *Decoder) Next() (Packet, error) {
	for {
		if err := d.sync(); err != nil {
			return Packet{}, err
		}
		var lenbuf [2]byte
		if _, err := io.ReadFull(d.r, lenbuf[:]); err != nil {
			return Packet{}, err
		}
		n := int(binary.BigEndian.Uint16(lenbuf[:]))
		if n == 0 || n > maxFrameLen {
			// length came from noise, scan for the next magic
			log.Printf("mesh: skipping frame with bad length %d", n)
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return Packet{}, err
		}
		var pkt Packet
		if err := json.Unmarshal(payload, &pkt); err != nil {
			log.Printf("mesh: skipping undecodable frame: %s", err)
			continue
		}
		return pkt, nil
	}
}

// sync discards bytes until the two magic bytes have been consumed.
func (d *Decoder) sync() error {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if b != magic0 {
			continue
		}
		b, err = d.r.ReadByte()
		if err != nil {
			return err
		}
		if b == magic1 {
			return nil
		}
		// a lone magic0 might be followed by another start byte
		if b == magic0 {
			if err := d.r.UnreadByte(); err != nil {
				return err
			}
		}
	}
}
