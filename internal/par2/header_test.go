package par2

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ParseHeader_WellFormed_Success(t *testing.T) {
	t.Parallel()

	packet := buildCreatorPacket("par2verify", testSetID)

	h, err := parseHeader(packet[:headerSize])
	require.NoError(t, err)
	require.Equal(t, uint64(len(packet)), h.length)
	require.Equal(t, testSetID, h.setID)
	require.Equal(t, creatorType, h.packetType)
}

func Test_ParseHeader_BadMagic_ReturnsInvalidMagic(t *testing.T) {
	t.Parallel()

	packet := buildCreatorPacket("x", testSetID)
	packet[0] = 'Q'

	_, err := parseHeader(packet[:headerSize])
	require.ErrorIs(t, err, errInvalidMagic)
}

func Test_ParseHeader_Truncated_ReturnsInvalidPacket(t *testing.T) {
	t.Parallel()

	_, err := parseHeader(make([]byte, headerSize-1))
	require.ErrorIs(t, err, errInvalidPacket)
}

func Test_ParseHeader_UnalignedLength_ReturnsInvalidAlignment(t *testing.T) {
	t.Parallel()

	packet := buildCreatorPacket("xyz", testSetID)
	binary.LittleEndian.PutUint64(packet[8:16], binary.LittleEndian.Uint64(packet[8:16])+1) // break 4-byte alignment

	_, err := parseHeader(packet[:headerSize])
	require.ErrorIs(t, err, errInvalidAlignment)
}

func Test_ParseHeader_LengthExceedsLimit_ReturnsInvalidPacket(t *testing.T) {
	t.Parallel()

	packet := buildCreatorPacket("x", testSetID)
	binary := packet[8:16]
	for i := range binary {
		binary[i] = 0xff
	}
	binary[0] = 0x00 // keep 4-byte aligned

	_, err := parseHeader(packet[:headerSize])
	require.ErrorIs(t, err, errInvalidPacket)
}

func Test_VerifyChecksum_Tampered_ReturnsChecksumMismatch(t *testing.T) {
	t.Parallel()

	packet := buildCreatorPacket("par2verify", testSetID)
	body := packet[headerSize:]
	body[0] ^= 0xff

	h, err := parseHeader(packet[:headerSize])
	require.NoError(t, err)

	err = verifyChecksum(h, packet[:headerSize], body)
	require.ErrorIs(t, err, errChecksumMismatch)
}

func Test_VerifyChecksum_Untampered_Success(t *testing.T) {
	t.Parallel()

	packet := buildCreatorPacket("par2verify", testSetID)

	h, err := parseHeader(packet[:headerSize])
	require.NoError(t, err)

	require.NoError(t, verifyChecksum(h, packet[:headerSize], packet[headerSize:]))
}
