package uds

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTCRecord_Name(t *testing.T) {
	tests := []struct {
		code uint32
		want string
	}{
		{0x012213, "P0122-13"},
		{0x4A1000, "C0A10-00"},
		{0x9234FF, "B1234-FF"},
		{0xE10300, "U2103-00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, DTCRecord{Code: tt.code}.Name())
		})
	}
}

func TestParseDTCList(t *testing.T) {
	raw := []byte{0x59, 0x02, 0xFF,
		0x01, 0x22, 0x13, 0x2F,
		0xE1, 0x03, 0x00, 0x08,
	}
	resp, err := Decode(0x19, raw)
	require.NoError(t, err)

	list, err := ParseDTCList(resp, ReportDTCByStatusMask)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), list.AvailabilityMask)
	require.Len(t, list.Records, 2)
	assert.Equal(t, DTCRecord{Code: 0x012213, Status: 0x2F}, list.Records[0])
	assert.True(t, list.Records[1].Confirmed())
	assert.Equal(t, "U2103-00 status=0x08", list.Records[1].String())
}

func TestParseDTCList_Empty(t *testing.T) {
	resp, _ := Decode(0x19, []byte{0x59, 0x02, 0xFF})
	list, err := ParseDTCList(resp, ReportDTCByStatusMask)
	require.NoError(t, err)
	assert.Empty(t, list.Records)
}

func TestParseDTCList_Truncated(t *testing.T) {
	resp, _ := Decode(0x19, []byte{0x59, 0x02, 0xFF, 0x01, 0x22})
	_, err := ParseDTCList(resp, ReportDTCByStatusMask)
	var rle *RecordLengthError
	require.True(t, errors.As(err, &rle), "got %v", err)
	assert.Equal(t, byte(0x19), rle.ServiceID)
	assert.Equal(t, 4, rle.RecordSize)
	assert.Equal(t, 2, rle.Got)

	wrongReport, _ := Decode(0x19, []byte{0x59, 0x0A, 0xFF})
	_, err = ParseDTCList(wrongReport, ReportDTCByStatusMask)
	assert.Error(t, err)
}

func TestParseDTCCount(t *testing.T) {
	resp, _ := Decode(0x19, []byte{0x59, 0x01, 0xFF, 0x01, 0x00, 0x03})
	count, err := ParseDTCCount(resp)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), count.Count)
	assert.Equal(t, byte(0x01), count.Format)
}

func TestParseDTCRecordData(t *testing.T) {
	resp, _ := Decode(0x19, []byte{0x59, 0x04, 0x01, 0x22, 0x13, 0x2F, 0x01, 0x02, 0xF1, 0x90, 0x55})
	rec, err := ParseDTCRecordData(resp, ReportDTCSnapshotRecordByDTCNumber, 0x012213)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2F), rec.DTC.Status)
	assert.Equal(t, []byte{0x01, 0x02, 0xF1, 0x90, 0x55}, rec.Data)

	_, err = ParseDTCRecordData(resp, ReportDTCSnapshotRecordByDTCNumber, 0x012214)
	assert.Error(t, err)
}

func TestDTCRequests(t *testing.T) {
	assert.Equal(t, []byte{0x19, 0x01, 0x08}, Encode(ReadNumberOfDTCByStatusMask(0x08)))
	assert.Equal(t, []byte{0x19, 0x0A}, Encode(ReadSupportedDTCs()))
	assert.Equal(t, []byte{0x19, 0x04, 0x01, 0x22, 0x13, 0xFF}, Encode(ReadDTCSnapshotRecord(0x012213, 0xFF)))
	assert.Equal(t, []byte{0x19, 0x06, 0x01, 0x22, 0x13, 0x01}, Encode(ReadDTCExtendedDataRecord(0x012213, 0x01)))
}
