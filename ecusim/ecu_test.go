package ecusim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/tp"
)

func fixedSeedConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = func(byte) []byte { return []byte{0x01, 0x02, 0x03, 0x04} }
	return cfg
}

func single(t *testing.T, e *ECU, req ...byte) []byte {
	t.Helper()
	out := e.Handle(req)
	require.Len(t, out, 1)
	return out[0]
}

func unlock(t *testing.T, e *ECU, level byte) {
	t.Helper()
	seed := single(t, e, 0x27, 2*level-1)
	require.Equal(t, byte(0x67), seed[0])
	key := []byte{0x27, 2 * level}
	for _, b := range seed[2:] {
		key = append(key, b^0xFF)
	}
	require.Equal(t, []byte{0x67, 2 * level}, single(t, e, key...))
}

func TestHandle_SessionControl(t *testing.T) {
	e := NewHandler(DefaultConfig())
	assert.Equal(t, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}, single(t, e, 0x10, 0x03))
	assert.Equal(t, []byte{0x7F, 0x10, 0x12}, single(t, e, 0x10, 0x05))
	assert.Equal(t, []byte{0x7F, 0x10, 0x13}, single(t, e, 0x10))
	assert.Equal(t, []byte{0x7F, 0x85, 0x11}, single(t, e, 0x85, 0x01))
}

func TestHandle_ReadWriteDID(t *testing.T) {
	e := NewHandler(fixedSeedConfig())

	resp := single(t, e, 0x22, 0xF1, 0x90)
	assert.Equal(t, []byte{0x62, 0xF1, 0x90}, resp[:3])
	assert.Equal(t, "WVWZZZ1JZXW000001", string(resp[3:]))
	assert.Equal(t, []byte{0x7F, 0x22, 0x31}, single(t, e, 0x22, 0x12, 0x34))

	write := []byte{0x2E, 0xF1, 0x23, 1, 2, 3, 4, 5, 6}
	assert.Equal(t, []byte{0x7F, 0x2E, 0x7F}, single(t, e, write...))
	single(t, e, 0x10, 0x03)
	assert.Equal(t, []byte{0x7F, 0x2E, 0x33}, single(t, e, write...))
	unlock(t, e, 1)
	assert.Equal(t, []byte{0x6E, 0xF1, 0x23}, single(t, e, write...))
	assert.Equal(t, []byte{0x7F, 0x2E, 0x13}, single(t, e, 0x2E, 0xF1, 0x23, 1))
	assert.Equal(t, []byte{0x7F, 0x2E, 0x31}, single(t, e, 0x2E, 0xF1, 0x90, 1, 2, 3, 4, 5, 6))

	v, ok := e.DID(0xF123)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, v)
}

func TestHandle_SecurityAccess(t *testing.T) {
	e := NewHandler(fixedSeedConfig())

	assert.Equal(t, []byte{0x67, 0x01, 0x01, 0x02, 0x03, 0x04}, single(t, e, 0x27, 0x01))
	assert.Equal(t, []byte{0x67, 0x02}, single(t, e, 0x27, 0x02, 0xFE, 0xFD, 0xFC, 0xFB))
	assert.Equal(t, []byte{0x67, 0x01, 0, 0, 0, 0}, single(t, e, 0x27, 0x01), "unlocked level answers a zero seed")

	assert.Equal(t, []byte{0x7F, 0x27, 0x24}, single(t, e, 0x27, 0x06, 0x00), "key without seed")
	assert.Equal(t, []byte{0x7F, 0x27, 0x12}, single(t, e, 0x27, 0x07), "level 4 is not configured")
}

func TestHandle_SecurityLockout(t *testing.T) {
	e := NewHandler(fixedSeedConfig())
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		single(t, e, 0x27, 0x01)
		assert.Equal(t, []byte{0x7F, 0x27, 0x35}, single(t, e, 0x27, 0x02, 0, 0, 0, 0))
	}
	single(t, e, 0x27, 0x01)
	assert.Equal(t, []byte{0x7F, 0x27, 0x36}, single(t, e, 0x27, 0x02, 0, 0, 0, 0))
	assert.Equal(t, []byte{0x7F, 0x27, 0x37}, single(t, e, 0x27, 0x01))

	now = now.Add(10 * time.Second)
	assert.Equal(t, byte(0x67), single(t, e, 0x27, 0x01)[0])
}

func TestHandle_Routines(t *testing.T) {
	e := NewHandler(fixedSeedConfig())

	assert.Equal(t, []byte{0x71, 0x01, 0xFF, 0x00, 0x00}, single(t, e, 0x31, 0x01, 0xFF, 0x00))
	assert.Equal(t, []byte{0x71, 0x03, 0xFF, 0x00, 0x00, 0x01}, single(t, e, 0x31, 0x03, 0xFF, 0x00))
	assert.Equal(t, []byte{0x71, 0x02, 0xFF, 0x00, 0x00}, single(t, e, 0x31, 0x02, 0xFF, 0x00))
	assert.Equal(t, []byte{0x7F, 0x31, 0x24}, single(t, e, 0x31, 0x02, 0xFF, 0x00))
	assert.Equal(t, []byte{0x7F, 0x31, 0x31}, single(t, e, 0x31, 0x01, 0x12, 0x34))

	assert.Equal(t, []byte{0x7F, 0x31, 0x33}, single(t, e, 0x31, 0x01, 0xFF, 0x01))
	unlock(t, e, 1)
	out := e.Handle([]byte{0x31, 0x01, 0xFF, 0x01})
	assert.Equal(t, [][]byte{
		{0x7F, 0x31, 0x78},
		{0x7F, 0x31, 0x78},
		{0x71, 0x01, 0xFF, 0x01, 0x00},
	}, out)
}

func TestHandle_DTCs(t *testing.T) {
	e := NewHandler(DefaultConfig())

	assert.Equal(t, []byte{0x59, 0x01, 0xFF, 0x01, 0x00, 0x02}, single(t, e, 0x19, 0x01, 0xFF))
	assert.Equal(t, []byte{0x59, 0x02, 0xFF, 0x01, 0x22, 0x13, 0x2F}, single(t, e, 0x19, 0x02, 0x01))
	assert.Equal(t, []byte{0x59, 0x04, 0x01, 0x22, 0x13, 0x2F, 0x01, 0x02, 0xF1, 0x90, 0x0C, 0x80},
		single(t, e, 0x19, 0x04, 0x01, 0x22, 0x13, 0xFF))
	assert.Equal(t, []byte{0x7F, 0x19, 0x31}, single(t, e, 0x19, 0x06, 0x00, 0x00, 0x01, 0xFF))

	assert.Equal(t, []byte{0x54}, single(t, e, 0x14, 0x01, 0x22, 0x13))
	assert.Len(t, e.DTCs(), 1)
	assert.Equal(t, []byte{0x7F, 0x14, 0x31}, single(t, e, 0x14, 0x01, 0x22, 0x13))
	assert.Equal(t, []byte{0x54}, single(t, e, 0x14, 0xFF, 0xFF, 0xFF))
	assert.Empty(t, e.DTCs())
}

func TestHandle_Download(t *testing.T) {
	e := NewHandler(DefaultConfig())
	reqDownload := []byte{0x34, 0x00, 0x44, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05}

	assert.Equal(t, []byte{0x7F, 0x34, 0x7F}, single(t, e, reqDownload...))
	single(t, e, 0x10, 0x02)
	assert.Equal(t, []byte{0x74, 0x20, 0x01, 0x02}, single(t, e, reqDownload...))
	assert.Equal(t, []byte{0x7F, 0x36, 0x73}, single(t, e, 0x36, 0x02, 1))
	assert.Equal(t, []byte{0x76, 0x01}, single(t, e, 0x36, 0x01, 1, 2, 3))
	assert.Equal(t, []byte{0x7F, 0x37, 0x72}, single(t, e, 0x37))
	assert.Equal(t, []byte{0x76, 0x02}, single(t, e, 0x36, 0x02, 4, 5))
	assert.Equal(t, []byte{0x77}, single(t, e, 0x37))

	mem := e.Memory()
	require.Len(t, mem, 1)
	assert.Equal(t, uint32(0x08000000), mem[0].Address)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, mem[0].Data)
}

func TestHandle_ResetLocksLevels(t *testing.T) {
	e := NewHandler(fixedSeedConfig())
	single(t, e, 0x10, 0x03)
	unlock(t, e, 1)

	assert.Equal(t, []byte{0x51, 0x01}, single(t, e, 0x11, 0x01))
	assert.Equal(t, byte(0x01), byte(e.Session()))
	assert.Equal(t, []byte{0x67, 0x01, 0x01, 0x02, 0x03, 0x04}, single(t, e, 0x27, 0x01))
}

func TestRun_OverVirtualBus(t *testing.T) {
	pair := driver.NewVirtualPair()
	defer pair.Close()

	addr, err := tp.NewAddress(tp.Normal11bits, 0x7E0, 0x7E8, 0, 0)
	require.NoError(t, err)
	ecu, err := New(pair.Remote(), addr.Reverse(), tp.DefaultConfig(), DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ecu.Run(ctx) }()

	tester, err := tp.NewTransport(pair.Local(), addr, tp.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, tester.Send(ctx, []byte{0x22, 0xF1, 0x90}))
	resp, err := tester.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x62, 0xF1, 0x90}, "WVWZZZ1JZXW000001"...), resp)
	assert.Equal(t, 1, ecu.Requests())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
