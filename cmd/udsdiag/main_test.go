package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/uds"
)

func TestParseHelpers(t *testing.T) {
	did, err := parseDID("F190")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF190), did)
	did, err = parseDID("0xf18c")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF18C), did)
	_, err = parseDID("1F190")
	assert.Error(t, err)

	id, err := parseID("0x18DA10F1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18DA10F1), id)
	id, err = parseID("2016")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E0), id)
	_, err = parseID("0x20000000")
	assert.Error(t, err)

	dtc, err := parseDTC("012213")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x012213), dtc)

	level, err := parseLevel("3")
	require.NoError(t, err)
	assert.Equal(t, byte(3), level)
	_, err = parseLevel("0")
	assert.Error(t, err)
	_, err = parseLevel("0x40")
	assert.Error(t, err)

	for _, in := range []string{"0102AB", "01 02 ab", "01:02:AB", "0x01 0x02 0xAB"} {
		data, err := parseHexBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x01, 0x02, 0xAB}, data, in)
	}
	_, err = parseHexBytes("012")
	assert.Error(t, err)
}

func TestParseNames(t *testing.T) {
	sessions := map[string]uds.SessionType{
		"default":     uds.DefaultSession,
		"Extended":    uds.ExtendedSession,
		"prog":        uds.ProgrammingSession,
		"3":           uds.ExtendedSession,
		"programming": uds.ProgrammingSession,
	}
	for in, want := range sessions {
		got, err := parseSessionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseSessionType("safety")
	assert.Error(t, err)

	reset, err := parseResetType("key-off-on")
	require.NoError(t, err)
	assert.Equal(t, uds.KeyOffOnReset, reset)
	_, err = parseResetType("cold")
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--virtual", "--log-level", "disabled"))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Virtual(t *testing.T) {
	out, err := execute(t, "read-did", "F190", "F18C")
	require.NoError(t, err)
	assert.Contains(t, out, "WVWZZZ1JZXW000001")
	assert.Contains(t, out, "SN-00042")

	out, err = execute(t, "session", "extended")
	require.NoError(t, err)
	assert.Contains(t, out, "extended session")
	assert.Contains(t, out, "5s")

	out, err = execute(t, "write-did", "F123", "01 02 03 04 05 06", "--session", "extended", "--level", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 6 bytes to 0xF123")

	_, err = execute(t, "write-did", "F123", "01 02 03 04 05 06", "--session", "extended")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NRC=0x33")

	out, err = execute(t, "unlock", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "security level 3 unlocked")

	out, err = execute(t, "routine", "start", "FF01", "--level", "1", "--params", "01")
	require.NoError(t, err)
	assert.Contains(t, out, "routine 0xFF01 start")

	out, err = execute(t, "dtc", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "P0122-13")
	assert.Contains(t, out, "U0100-00")

	out, err = execute(t, "dtc", "read", "--snapshot", "012213")
	require.NoError(t, err)
	assert.Contains(t, out, "01 02 F1 90 0C 80")

	out, err = execute(t, "dtc", "count", "--mask", "0x08")
	require.NoError(t, err)
	assert.Contains(t, out, "2 (mask 0x08")

	out, err = execute(t, "dtc", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "0xFFFFFF")

	out, err = execute(t, "reset", "soft")
	require.NoError(t, err)
	assert.Contains(t, out, "session default")
}

func TestCLI_FlashWithCaptureAndLogs(t *testing.T) {
	dir := t.TempDir()
	hexPath := filepath.Join(dir, "app.hex")
	data := make([]byte, 700)
	for i := range data {
		data[i] = byte(i)
	}
	img := &flash.Image{Segments: []flash.Segment{{Address: 0x08000000, Data: data}}}
	f, err := os.Create(hexPath)
	require.NoError(t, err)
	require.NoError(t, img.WriteIntelHex(f))
	require.NoError(t, f.Close())

	pcapPath := filepath.Join(dir, "trace.pcap")
	logDir := filepath.Join(dir, "logs")
	out, err := execute(t, "flash", hexPath, "--level", "1", "--capture", pcapPath, "--log-dir", logDir)
	require.NoError(t, err)
	assert.Contains(t, out, "700 bytes")
	assert.Contains(t, out, "100% 700/700")

	st, err := os.Stat(pcapPath)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(24), "more than the pcap file header")

	days, err := os.ReadDir(logDir)
	require.NoError(t, err)
	assert.Len(t, days, 1)
}

func TestCLI_Errors(t *testing.T) {
	_, err := execute(t, "read-did", "XYZ")
	assert.Error(t, err)

	_, err = execute(t, "read-did", "1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NRC=0x31")

	_, err = execute(t, "simulate")
	assert.Error(t, err)

	_, err = execute(t, "read-did", "F190", "--tx", "0x7E8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfigCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udsdiag.yaml")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", path})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "tx_id: 2016")

	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", path})
	assert.Error(t, root.Execute())
}
