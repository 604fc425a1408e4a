package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsdiag/security"
	"github.com/LoveWonYoung/udsdiag/tp"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	addr, err := cfg.Address()
	require.NoError(t, err)
	assert.Equal(t, tp.Normal11bits, addr.Mode)
	assert.Equal(t, uint32(0x7E0), addr.TxID)
	assert.Equal(t, uint32(0x7E8), addr.RxID)

	assert.Equal(t, tp.DefaultConfig(), cfg.TPConfig())
	opts := cfg.ClientOptions()
	assert.Equal(t, time.Second, opts.Timeout)
	assert.Equal(t, 5*time.Second, opts.PendingTimeout)
	sess := cfg.SessionOptions()
	assert.Equal(t, 3, sess.SecurityMaxAttempts)
	assert.Equal(t, 10*time.Second, sess.SecurityDelay)
	assert.Equal(t, 5*time.Second, sess.SeedTTL)

	keys, err := cfg.KeyAlgorithm()
	require.NoError(t, err)
	assert.Equal(t, security.XORAlgorithm{Mask: 0xFF}, keys)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
link:
  interface: vcan0
  addressing: normal_29bits
  tx_id: 0x18DA10F1
  rx_id: 0x18DAF110
isotp:
  padding: 0xCC
  block_size: 8
  st_min: 0xF3
client:
  timeout_ms: 250
  max_retries: 1
security:
  algorithm: cmac
  key_length: 8
  secrets:
    1: 2b7e151628aed2a6abf7158809cf4f3c
capture:
  file: trace.pcap
`))
	require.NoError(t, err)

	addr, err := cfg.Address()
	require.NoError(t, err)
	assert.Equal(t, tp.Normal29bits, addr.Mode)
	assert.Equal(t, uint32(0x18DA10F1), addr.TxID)

	tpCfg := cfg.TPConfig()
	require.NotNil(t, tpCfg.PaddingByte)
	assert.Equal(t, byte(0xCC), *tpCfg.PaddingByte)
	assert.Equal(t, 8, tpCfg.BlockSize)
	assert.Equal(t, 0xF3, tpCfg.StMin)
	assert.Equal(t, time.Second, tpCfg.TimeoutN_Bs, "unset keys keep their defaults")

	opts := cfg.ClientOptions()
	assert.Equal(t, 250*time.Millisecond, opts.Timeout)
	assert.Equal(t, 1, opts.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, opts.PendingPollInterval)

	keys, err := cfg.KeyAlgorithm()
	require.NoError(t, err)
	key, err := keys.ComputeKey([]byte{1, 2, 3, 4}, 1)
	require.NoError(t, err)
	assert.Len(t, key, 8)
	assert.Equal(t, "trace.pcap", cfg.Capture.File)
}

func TestParse_Unpadded(t *testing.T) {
	cfg, err := Parse([]byte("isotp:\n  padding: -1\n"))
	require.NoError(t, err)
	assert.Nil(t, cfg.TPConfig().PaddingByte)
}

func TestParse_CMACFromMaster(t *testing.T) {
	cfg, err := Parse([]byte(`
security:
  algorithm: cmac
  master: 000102030405060708090a0b0c0d0e0f
  levels: [1, 3]
`))
	require.NoError(t, err)
	keys, err := cfg.KeyAlgorithm()
	require.NoError(t, err)

	k1, err := keys.ComputeKey([]byte{0xAA, 0xBB}, 1)
	require.NoError(t, err)
	k3, err := keys.ComputeKey([]byte{0xAA, 0xBB}, 3)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
	_, err = keys.ComputeKey([]byte{0xAA, 0xBB}, 5)
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "link: [", "parse YAML"},
		{"no interface", "link:\n  interface: \"\"\n", "link.interface"},
		{"empty file", "", ""},
		{"virtual without interface", "link:\n  virtual: true\n  interface: \"\"\n", ""},
		{"addressing", "link:\n  addressing: mixed\n", "unknown addressing mode"},
		{"standard id range", "link:\n  tx_id: 0x800\n", "link:"},
		{"padding", "isotp:\n  padding: 300\n", "isotp.padding"},
		{"st_min", "isotp:\n  st_min: 0x80\n", "StMin"},
		{"client timeout", "client:\n  timeout_ms: 0\n", "client:"},
		{"attempts", "security:\n  max_attempts: 0\n", "security max attempts"},
		{"algorithm", "security:\n  algorithm: rot13\n", "unknown algorithm"},
		{"cmac without secret", "security:\n  algorithm: cmac\n", "secrets or master"},
		{"cmac bad hex", "security:\n  algorithm: cmac\n  secrets:\n    1: zz\n", "secrets[1]"},
		{"rotation", "logging:\n  rotate_minutes: -1\n", "rotate_minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udsdiag.yaml")

	cfg := Default()
	cfg.Link.Virtual = true
	cfg.Security.XORMask = 0x5A
	require.NoError(t, Write(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Link, loaded.Link)
	assert.Equal(t, cfg.Client, loaded.Client)
	assert.Equal(t, cfg.Logging, loaded.Logging)
	assert.Equal(t, cfg.TPConfig(), loaded.TPConfig())
	keys, err := loaded.KeyAlgorithm()
	require.NoError(t, err)
	assert.Equal(t, security.XORAlgorithm{Mask: 0x5A}, keys)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, os.WriteFile(path, []byte("client:\n  max_retries: -2\n"), 0644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
