package par2

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

const (
	mainFixedSize = 12 // SliceSize(8) + NumFiles(4); recovery/non-recovery IDs follow.
	fileDescFixed = 56 // FileID(16) + HashFull(16) + Hash16k(16) + Length(8); name follows.
	ifscEntrySize = 20 // MD5(16) + CRC32(4) per block.
	recoveryFixed = 4  // Exponent(4); encoded block data follows.
)

// MainPacket is the PAR2 main packet: block size plus the ordered file
// identifier lists for recoverable and auxiliary files.
type MainPacket struct {
	SetID          Hash
	BlockSize      uint64
	RecoveryIDs    []Hash
	NonRecoveryIDs []Hash
}

func parseMainPacket(setID Hash, body []byte) (*MainPacket, error) {
	if len(body) < mainFixedSize {
		return nil, fmt.Errorf("%w: main packet body too short", errInvalidPacket)
	}

	blockSize := binary.LittleEndian.Uint64(body[0:8])
	numFiles := binary.LittleEndian.Uint32(body[8:12])

	if blockSize == 0 || blockSize%4 != 0 {
		return nil, fmt.Errorf("%w: block size %d must be positive and divisible by 4", errInvalidPacket, blockSize)
	}

	rest := body[mainFixedSize:]

	recoveryBytes := int64(numFiles) * HashSize
	if recoveryBytes < 0 || recoveryBytes > int64(len(rest)) {
		return nil, fmt.Errorf("%w: main packet recovery id count overruns body", errInvalidPacket)
	}

	recoveryIDs := splitHashes(rest[:recoveryBytes])
	nonRecoveryIDs := splitHashes(rest[recoveryBytes:])

	return &MainPacket{
		SetID:          setID,
		BlockSize:      blockSize,
		RecoveryIDs:    recoveryIDs,
		NonRecoveryIDs: nonRecoveryIDs,
	}, nil
}

func splitHashes(b []byte) []Hash {
	n := len(b) / HashSize

	out := make([]Hash, 0, n)
	for i := range n {
		var h Hash
		copy(h[:], b[i*HashSize:(i+1)*HashSize])
		out = append(out, h)
	}

	return out
}

// CreatorPacket carries a free-form, ASCII identification of the program
// that produced the recovery set. It has no bearing on verification or
// repair, but is retained on the loaded recovery set (recoveryset.Set).
type CreatorPacket struct {
	SetID Hash
	Text  string
}

func parseCreatorPacket(setID Hash, body []byte) (*CreatorPacket, error) {
	return &CreatorPacket{
		SetID: setID,
		Text:  strings.TrimRight(string(body), "\x00"),
	}, nil
}

// FileDescPacket is a PAR2 file description packet: the authoritative
// identity, size, and hashes of one protected file.
type FileDescPacket struct {
	SetID   Hash
	FileID  Hash
	Hash    Hash // MD5 of the entire file.
	Hash16k Hash // MD5 of the first 16 KiB.
	Size    uint64
	Name    string
}

func parseFileDescPacket(setID Hash, body []byte) (*FileDescPacket, error) {
	if len(body) < fileDescFixed {
		return nil, fmt.Errorf("%w: file description body too short", errInvalidPacket)
	}

	p := &FileDescPacket{SetID: setID}
	copy(p.FileID[:], body[0:16])
	copy(p.Hash[:], body[16:32])
	copy(p.Hash16k[:], body[32:48])
	p.Size = binary.LittleEndian.Uint64(body[48:56])

	name := strings.TrimRight(string(body[fileDescFixed:]), "\x00")
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("%w: %q", errFilenameHasPath, name)
	}

	p.Name = name

	return p, nil
}

// UnicodePacket overrides a FileDescPacket's name with a UTF-16LE encoded
// name, for filenames that cannot be represented faithfully in ASCII.
type UnicodePacket struct {
	SetID  Hash
	FileID Hash
	Name   string
}

func parseUnicodePacket(setID Hash, body []byte) (*UnicodePacket, error) {
	if len(body) < HashSize {
		return nil, fmt.Errorf("%w: unicode packet body too short", errInvalidPacket)
	}

	p := &UnicodePacket{SetID: setID}
	copy(p.FileID[:], body[0:HashSize])

	raw := body[HashSize:]
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}

	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}

	name := strings.TrimRight(string(utf16.Decode(units)), "\x00")
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("%w: %q", errFilenameHasPath, name)
	}

	p.Name = name

	return p, nil
}

// BlockVerify is one block's expected CRC32 and MD5, as carried in a
// FileVerifyPacket.
type BlockVerify struct {
	MD5   Hash
	CRC32 uint32
}

// FileVerifyPacket is a PAR2 "IFSC" packet: per-block CRC32+MD5 pairs used
// by the scanner to locate a file's blocks.
type FileVerifyPacket struct {
	SetID  Hash
	FileID Hash
	Blocks []BlockVerify
}

func parseFileVerifyPacket(setID Hash, body []byte) (*FileVerifyPacket, error) {
	if len(body) < HashSize {
		return nil, fmt.Errorf("%w: file verify body too short", errInvalidPacket)
	}

	p := &FileVerifyPacket{SetID: setID}
	copy(p.FileID[:], body[0:HashSize])

	rest := body[HashSize:]
	if len(rest)%ifscEntrySize != 0 {
		return nil, fmt.Errorf("%w: file verify block table misaligned", errInvalidPacket)
	}

	count := len(rest) / ifscEntrySize
	p.Blocks = make([]BlockVerify, count)

	for i := range count {
		entry := rest[i*ifscEntrySize : (i+1)*ifscEntrySize]

		var bv BlockVerify
		copy(bv.MD5[:], entry[0:16])
		bv.CRC32 = binary.LittleEndian.Uint32(entry[16:20])
		p.Blocks[i] = bv
	}

	return p, nil
}

// RecoveryPacket is a single PAR2 recovery (parity) block, identified by
// its GF(2^16) exponent.
type RecoveryPacket struct {
	SetID    Hash
	Exponent uint32
	Data     []byte
}

func parseRecoveryPacket(setID Hash, body []byte) (*RecoveryPacket, error) {
	if len(body) < recoveryFixed {
		return nil, fmt.Errorf("%w: recovery body too short", errInvalidPacket)
	}

	exponent := binary.LittleEndian.Uint32(body[0:4])

	return &RecoveryPacket{
		SetID:    setID,
		Exponent: exponent,
		Data:     body[recoveryFixed:],
	}, nil
}
