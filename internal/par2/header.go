package par2

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

const (
	headerSize       = 64 // Total size of the fixed packet header.
	hashFieldOffset  = 16 // Offset of the packet-checksum MD5 within the header.
	hashedFromOffset = 32 // The checksum covers bytes from here to the end of the packet.

	maxPacketBodySize = 10 << 20 // Sane upper bound (10 MiB) for any single packet body.
)

// packetMagic is the 8-byte sequence identifying the start of a packet.
var packetMagic = []byte("PAR2\x00PKT")

// Packet type tags, 16 bytes, ASCII and zero-padded, as fixed by the PAR2
// specification.
var (
	mainType     = mustType("PAR 2.0\x00Main\x00\x00\x00\x00")
	fileDescType = mustType("PAR 2.0\x00FileDesc")
	unicodeType  = mustType("PAR 2.0\x00UniFileN")
	ifscType     = mustType("PAR 2.0\x00IFSC\x00\x00\x00\x00")
	recoveryType = mustType("PAR 2.0\x00RecvSlic")
	creatorType  = mustType("PAR 2.0\x00Creator\x00")
)

func mustType(s string) Hash {
	if len(s) != HashSize {
		panic("par2: packet type tag must be 16 bytes")
	}

	var h Hash
	copy(h[:], s)

	return h
}

// header is the fixed 64-byte prefix of every PAR2 packet.
type header struct {
	length     uint64
	checksum   Hash
	setID      Hash
	packetType Hash
}

// parseHeader decodes a 64-byte buffer into a header, validating the magic
// bytes, the 4-byte length alignment, and the minimum length.
func parseHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: header truncated", errInvalidPacket)
	}

	if !bytes.Equal(buf[0:8], packetMagic) {
		return nil, fmt.Errorf("%w", errInvalidMagic)
	}

	length := binary.LittleEndian.Uint64(buf[8:16])

	if length%4 != 0 {
		return nil, fmt.Errorf("%w: length=%d", errInvalidAlignment, length)
	}

	if length < headerSize {
		return nil, fmt.Errorf("%w: length %d smaller than header", errInvalidPacket, length)
	}

	if length-headerSize > maxPacketBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds sane limit", errInvalidPacket, length-headerSize)
	}

	h := &header{length: length}
	copy(h.checksum[:], buf[hashFieldOffset:hashedFromOffset])
	copy(h.setID[:], buf[hashedFromOffset:48])
	copy(h.packetType[:], buf[48:64])

	return h, nil
}

// verifyChecksum recomputes the packet's MD5 (from the setid field through
// the end of the body) and compares it against the header's recorded hash.
func verifyChecksum(h *header, headerBuf, body []byte) error {
	hasher := md5.New()
	hasher.Write(headerBuf[hashedFromOffset:headerSize])
	hasher.Write(body)

	var computed Hash
	copy(computed[:], hasher.Sum(nil))

	if computed != h.checksum {
		return fmt.Errorf("%w: expected %s, got %s", errChecksumMismatch, h.checksum, computed)
	}

	return nil
}
