package par2

import (
	"crypto/md5"
	"encoding/binary"
	"unicode/utf16"
)

var (
	testSetID = Hash{0x00}
	testIDA   = Hash{0x01}
	testIDB   = Hash{0x02}
)

func buildPacket(packetType Hash, body []byte, setID Hash) []byte {
	total := uint64(headerSize) + uint64(len(body))
	packet := make([]byte, total)

	copy(packet[0:8], packetMagic)
	binary.LittleEndian.PutUint64(packet[8:16], total)
	copy(packet[32:48], setID[:])
	copy(packet[48:64], packetType[:])
	copy(packet[64:], body)

	hasher := md5.New()
	hasher.Write(packet[hashedFromOffset:])
	copy(packet[16:32], hasher.Sum(nil))

	return packet
}

func pad4(body []byte) []byte {
	if rem := len(body) % 4; rem != 0 {
		body = append(body, make([]byte, 4-rem)...)
	}

	return body
}

func buildMainPacket(blockSize uint64, recoveryIDs, nonRecoveryIDs []Hash, setID Hash) []byte {
	body := make([]byte, mainFixedSize)
	binary.LittleEndian.PutUint64(body[0:8], blockSize)
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(recoveryIDs))) //nolint:gosec

	for _, id := range recoveryIDs {
		body = append(body, id[:]...)
	}

	for _, id := range nonRecoveryIDs {
		body = append(body, id[:]...)
	}

	return buildPacket(mainType, pad4(body), setID)
}

func buildFileDescPacket(name string, size uint64, fileID, hashFull, hash16k, setID Hash) []byte {
	body := make([]byte, fileDescFixed)
	copy(body[0:16], fileID[:])
	copy(body[16:32], hashFull[:])
	copy(body[32:48], hash16k[:])
	binary.LittleEndian.PutUint64(body[48:56], size)
	body = append(body, []byte(name)...)

	return buildPacket(fileDescType, pad4(body), setID)
}

func buildUnicodePacket(name string, fileID, setID Hash) []byte {
	body := make([]byte, HashSize)
	copy(body[0:16], fileID[:])

	for _, u := range utf16.Encode([]rune(name)) {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], u)
		body = append(body, b[:]...)
	}

	return buildPacket(unicodeType, pad4(body), setID)
}

func buildFileVerifyPacket(fileID Hash, blocks []BlockVerify, setID Hash) []byte {
	body := make([]byte, HashSize)
	copy(body[0:16], fileID[:])

	for _, b := range blocks {
		entry := make([]byte, ifscEntrySize)
		copy(entry[0:16], b.MD5[:])
		binary.LittleEndian.PutUint32(entry[16:20], b.CRC32)
		body = append(body, entry...)
	}

	return buildPacket(ifscType, pad4(body), setID)
}

func buildRecoveryPacket(exponent uint32, data []byte, setID Hash) []byte {
	body := make([]byte, recoveryFixed)
	binary.LittleEndian.PutUint32(body[0:4], exponent)
	body = append(body, data...)

	return buildPacket(recoveryType, pad4(body), setID)
}

func buildCreatorPacket(text string, setID Hash) []byte {
	return buildPacket(creatorType, pad4([]byte(text)), setID)
}
