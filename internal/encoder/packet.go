package encoder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed packet header: timestamp (int64 µs), duration
// (int64 µs), flags (1 byte), payload length (uint32), all big-endian.
const HeaderSize = 21

const (
	FlagKey byte = 1 << 0
)

// MaxPayload bounds a single packet so a corrupt header cannot trigger a
// huge allocation.
const MaxPayload = 64 << 20

// Packet is one encoded frame.
type Packet struct {
	Timestamp int64
	Duration  int64
	Key       bool
	Data      []byte
}

// Size is the framed size of the packet.
func (p Packet) Size() int {
	return HeaderSize + len(p.Data)
}

// AppendPacket appends the framed packet to buf.
func AppendPacket(buf []byte, p Packet) []byte {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(p.Timestamp))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(p.Duration))
	if p.Key {
		hdr[16] = FlagKey
	}
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(p.Data)))
	buf = append(buf, hdr[:]...)
	return append(buf, p.Data...)
}

// WritePacket writes one framed packet.
func WritePacket(w io.Writer, p Packet) error {
	_, err := w.Write(AppendPacket(make([]byte, 0, p.Size()), p))
	return err
}

// PacketReader reads framed packets from a stream.
type PacketReader struct {
	r *bufio.Reader
}

func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: bufio.NewReader(r)}
}

// Next returns the next packet, or io.EOF at a clean end of stream. A
// stream cut inside a packet yields io.ErrUnexpectedEOF.
func (pr *PacketReader) Next() (Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(pr.r, hdr[:]); err != nil {
		return Packet{}, err
	}
	n := binary.BigEndian.Uint32(hdr[17:21])
	if n > MaxPayload {
		return Packet{}, fmt.Errorf("packet payload %d exceeds %d bytes", n, MaxPayload)
	}
	p := Packet{
		Timestamp: int64(binary.BigEndian.Uint64(hdr[0:8])),
		Duration:  int64(binary.BigEndian.Uint64(hdr[8:16])),
		Key:       hdr[16]&FlagKey != 0,
		Data:      make([]byte, n),
	}
	if _, err := io.ReadFull(pr.r, p.Data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}
	return p, nil
}
