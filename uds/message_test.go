package uds

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []byte
	}{
		{"rdbi", ReadDataByIdentifier(0xF190), []byte{0x22, 0xF1, 0x90}},
		{"session", DiagnosticSessionControl(ExtendedSession), []byte{0x10, 0x03}},
		{"wdbi", WriteDataByIdentifier(0xF123, []byte{1, 2, 3, 4, 5, 6}), []byte{0x2E, 0xF1, 0x23, 1, 2, 3, 4, 5, 6}},
		{"routine", RoutineControl(StartRoutine, 0xFF00, []byte{0xAA}), []byte{0x31, 0x01, 0xFF, 0x00, 0xAA}},
		{"clear all", ClearDiagnosticInformation(GroupAllDTCs), []byte{0x14, 0xFF, 0xFF, 0xFF}},
		{"read dtc", ReadDTCByStatusMask(0xFF), []byte{0x19, 0x02, 0xFF}},
		{"reset", ECUReset(HardReset), []byte{0x11, 0x01}},
		{"download", RequestDownload(0x08001000, 0x200), []byte{0x34, 0x00, 0x44, 0x08, 0x00, 0x10, 0x00, 0x00, 0x00, 0x02, 0x00}},
		{"transfer", TransferData(1, []byte{9, 8}), []byte{0x36, 0x01, 9, 8}},
		{"exit", RequestTransferExit(), []byte{0x37}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.req))
		})
	}
}

func TestSecurityAccessRequests(t *testing.T) {
	seed, err := SecurityAccessRequestSeed(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x27, 0x05}, Encode(seed))

	key, err := SecurityAccessSendKey(3, []byte{0xAB, 0xCD})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x27, 0x06, 0xAB, 0xCD}, Encode(key))

	_, err = SecurityAccessRequestSeed(0)
	assert.Error(t, err)
	_, err = SecurityAccessRequestSeed(0x40)
	assert.Error(t, err)
	_, err = SecurityAccessSendKey(1, nil)
	assert.Error(t, err)
}

func TestDecode_Positive(t *testing.T) {
	resp, err := Decode(0x22, []byte{0x62, 0xF1, 0x90, 'A'})
	require.NoError(t, err)
	assert.False(t, resp.Negative)
	assert.Equal(t, byte(0x62), resp.ServiceID)
	assert.Equal(t, []byte{0xF1, 0x90, 'A'}, resp.Data)
	assert.NoError(t, resp.Err())
}

func TestDecode_Negative(t *testing.T) {
	resp, err := Decode(0x2E, []byte{0x7F, 0x2E, 0x31})
	require.NoError(t, err)
	assert.True(t, resp.Negative)
	assert.Equal(t, byte(0x2E), resp.ServiceID)
	assert.Equal(t, byte(0x31), resp.NRC)

	var nrc *NegativeResponseError
	require.True(t, errors.As(resp.Err(), &nrc))
	assert.Equal(t, byte(0x2E), nrc.ServiceID)
	assert.Equal(t, byte(NRCRequestOutOfRange), nrc.NRC)
	assert.False(t, nrc.IsRetryable())
	assert.Contains(t, nrc.Error(), "request out of range")
}

func TestDecode_ResponsePending(t *testing.T) {
	resp, err := Decode(0x31, []byte{0x7F, 0x31, 0x78})
	require.NoError(t, err)
	assert.True(t, resp.IsResponsePending())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		sid  byte
		raw  []byte
		want any
	}{
		{"empty", 0x22, nil, &ShortResponseError{}},
		{"short negative", 0x22, []byte{0x7F, 0x22}, &ShortResponseError{}},
		{"wrong positive sid", 0x22, []byte{0x6E, 0xF1, 0x90}, &UnexpectedServiceIDError{}},
		{"negative for other service", 0x22, []byte{0x7F, 0x2E, 0x31}, &UnexpectedServiceIDError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.sid, tt.raw)
			require.Error(t, err)
			switch tt.want.(type) {
			case *ShortResponseError:
				var target *ShortResponseError
				assert.True(t, errors.As(err, &target), "got %v", err)
			case *UnexpectedServiceIDError:
				var target *UnexpectedServiceIDError
				assert.True(t, errors.As(err, &target), "got %v", err)
			}
		})
	}
}

func TestParseReadDataByIdentifier(t *testing.T) {
	data := []byte("12345678901234")
	raw := append([]byte{0x62, 0xF1, 0x90}, data...)
	resp, err := Decode(0x22, raw)
	require.NoError(t, err)

	got, err := ParseReadDataByIdentifier(resp, 0xF190)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = ParseReadDataByIdentifier(resp, 0xF18C)
	var echo *EchoMismatchError
	assert.True(t, errors.As(err, &echo))

	short, _ := Decode(0x22, []byte{0x62, 0xF1})
	_, err = ParseReadDataByIdentifier(short, 0xF190)
	var se *ShortResponseError
	assert.True(t, errors.As(err, &se))
}

func TestParseWriteDataByIdentifier_Negative(t *testing.T) {
	resp, err := Decode(0x2E, []byte{0x7F, 0x2E, 0x31})
	require.NoError(t, err)
	err = ParseWriteDataByIdentifier(resp, 0xF123)
	var nrc *NegativeResponseError
	require.True(t, errors.As(err, &nrc))
	assert.Equal(t, &NegativeResponseError{ServiceID: 0x2E, NRC: 0x31}, nrc)
}

func TestParseDiagnosticSessionControl(t *testing.T) {
	resp, _ := Decode(0x10, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4})
	timing, err := ParseDiagnosticSessionControl(resp, ExtendedSession)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, timing.P2)
	assert.Equal(t, 5*time.Second, timing.P2Star)

	bare, _ := Decode(0x10, []byte{0x50, 0x01})
	timing, err = ParseDiagnosticSessionControl(bare, DefaultSession)
	require.NoError(t, err)
	assert.Zero(t, timing)

	partial, _ := Decode(0x10, []byte{0x50, 0x01, 0x00})
	_, err = ParseDiagnosticSessionControl(partial, DefaultSession)
	assert.Error(t, err)

	_, err = ParseDiagnosticSessionControl(bare, ProgrammingSession)
	assert.Error(t, err)
}

func TestParseSecuritySeed(t *testing.T) {
	resp, _ := Decode(0x27, []byte{0x67, 0x01, 0x11, 0x22, 0x33, 0x44})
	seed, err := ParseSecuritySeed(resp, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, seed)
	assert.False(t, IsZeroSeed(seed))
	assert.True(t, IsZeroSeed([]byte{0, 0, 0, 0}))

	_, err = ParseSecuritySeed(resp, 3)
	assert.Error(t, err)

	keyResp, _ := Decode(0x27, []byte{0x67, 0x02})
	assert.NoError(t, ParseSecurityKey(keyResp, 1))
}

func TestParseRoutineControl(t *testing.T) {
	resp, _ := Decode(0x31, []byte{0x71, 0x01, 0xFF, 0x00, 0x00})
	status, err := ParseRoutineControl(resp, StartRoutine, 0xFF00)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, status)

	_, err = ParseRoutineControl(resp, StartRoutine, 0xFF01)
	assert.Error(t, err)
	_, err = ParseRoutineControl(resp, StopRoutine, 0xFF00)
	assert.Error(t, err)
}

func TestParseRequestDownload(t *testing.T) {
	resp, _ := Decode(0x34, []byte{0x74, 0x20, 0x01, 0x02})
	n, err := ParseRequestDownload(resp)
	require.NoError(t, err)
	assert.Equal(t, 0x102, n)

	bad, _ := Decode(0x34, []byte{0x74, 0x20, 0x01})
	_, err = ParseRequestDownload(bad)
	assert.Error(t, err)

	transfer, _ := Decode(0x36, []byte{0x76, 0x05})
	assert.NoError(t, ParseTransferData(transfer, 5))
	assert.Error(t, ParseTransferData(transfer, 6))
}

func TestNRCDescription(t *testing.T) {
	assert.Equal(t, "invalid key", NRCDescription(NRCInvalidKey))
	assert.Equal(t, "unknown NRC 0x99", NRCDescription(0x99))
	assert.True(t, (&NegativeResponseError{NRC: NRCBusyRepeatRequest}).IsRetryable())
}
