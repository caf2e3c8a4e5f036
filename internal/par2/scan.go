package par2

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	resyncChunkSize = 16384 // Read size while scanning forward for the next magic sequence.
	resyncMaxStalls = 10    // Bound on zero-byte reads before giving up as corrupted.
)

// ReadPacket reads one packet starting at the reader's current position. On
// success it returns the decoded value (one of the *XxxPacket types above)
// and leaves the reader positioned just past the packet. For a
// syntactically valid packet of a type this package does not act on, it
// returns (nil, errSkipPacket) having still advanced the reader past it —
// per the PAR2 specification, unknown packet types are silently ignored,
// not treated as corruption.
func ReadPacket(r io.ReadSeeker, checkMD5 bool) (any, error) {
	headerBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err //nolint:wrapcheck
	}

	h, err := parseHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	bodyLen := int64(h.length) - headerSize

	known := bytesEqualAny(h.packetType,
		mainType, creatorType, fileDescType, unicodeType, ifscType, recoveryType)
	if !known {
		if _, err := r.Seek(bodyLen, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("failed to skip unknown packet body: %w", err)
		}

		return nil, errSkipPacket
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read packet body: %w", err)
	}

	if checkMD5 {
		if err := verifyChecksum(h, headerBuf, body); err != nil {
			return nil, err
		}
	}

	switch h.packetType {
	case mainType:
		return parseMainPacket(h.setID, body)
	case creatorType:
		return parseCreatorPacket(h.setID, body)
	case fileDescType:
		return parseFileDescPacket(h.setID, body)
	case unicodeType:
		return parseUnicodePacket(h.setID, body)
	case ifscType:
		return parseFileVerifyPacket(h.setID, body)
	case recoveryType:
		return parseRecoveryPacket(h.setID, body)
	default:
		return nil, errSkipPacket
	}
}

func bytesEqualAny(h Hash, candidates ...Hash) bool {
	for _, c := range candidates {
		if h == c {
			return true
		}
	}

	return false
}

// SeekToNextPacket advances r to the next occurrence of the packet magic
// bytes, scanning forward in fixed-size chunks so it never needs to hold
// more than one chunk of a possibly huge, possibly corrupt file in memory.
// It leaves r positioned at the start of the magic sequence, or returns
// io.EOF if none is found before the stream ends.
func SeekToNextPacket(r io.ReadSeeker) error {
	buf := make([]byte, resyncChunkSize)
	magicLen := len(packetMagic)
	stalls := 0

	for {
		before, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}

		n, readErr := r.Read(buf)

		if n >= magicLen {
			if idx := bytes.Index(buf[:n], packetMagic); idx != -1 {
				_, err := r.Seek(before+int64(idx), io.SeekStart)
				if err != nil {
					return fmt.Errorf("failed to seek to magic: %w", err)
				}

				return nil
			}

			if readErr == nil {
				// The magic sequence may straddle this chunk boundary;
				// back up so the next read re-covers the tail we just saw.
				if _, err := r.Seek(-int64(magicLen-1), io.SeekCurrent); err != nil {
					return fmt.Errorf("failed to seek back: %w", err)
				}
			}
		}

		if n == 0 && readErr == nil {
			stalls++
			if stalls > resyncMaxStalls {
				return io.ErrUnexpectedEOF
			}

			continue
		}

		stalls = 0

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return io.EOF
			}

			return fmt.Errorf("failed to read while resyncing: %w", readErr)
		}
	}
}

// ScanStream reads every recoverable packet from r, resynchronizing at
// arbitrary byte offsets after malformed or checksum-mismatched packets, and
// returns them in the order encountered. It never returns an error for
// corrupt content — callers that want to know how many bytes were
// unrecoverable should track packet boundaries themselves — only for I/O
// failures.
func ScanStream(r io.ReadSeeker) ([]any, error) {
	var packets []any

	for {
		before, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to seek: %w", errSourceCorrupted, err)
		}

		pkt, err := ReadPacket(r, true)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			if errors.Is(err, errSkipPacket) {
				continue
			}

			if _, err := r.Seek(before+1, io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: failed to seek past corrupt packet: %w", errSourceCorrupted, err)
			}

			if err := SeekToNextPacket(r); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					break
				}

				return nil, fmt.Errorf("%w: failed to resynchronize: %w", errSourceCorrupted, err)
			}

			continue
		}

		packets = append(packets, pkt)
	}

	return packets, nil
}
