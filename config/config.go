// Package config loads the YAML configuration of the udsdiag tool and
// converts it to the option types of each layer.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LoveWonYoung/udsdiag/security"
	"github.com/LoveWonYoung/udsdiag/session"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

const (
	AlgorithmXOR  = "xor"
	AlgorithmCMAC = "cmac"
)

type Config struct {
	Link     LinkConfig     `yaml:"link"`
	IsoTp    IsoTpConfig    `yaml:"isotp"`
	Client   ClientConfig   `yaml:"client"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Capture  CaptureConfig  `yaml:"capture"`
}

// LinkConfig selects the CAN binding and the diagnostic id pair.
type LinkConfig struct {
	Interface     string `yaml:"interface"`
	Virtual       bool   `yaml:"virtual"`
	Addressing    string `yaml:"addressing"`
	TxID          uint32 `yaml:"tx_id"`
	RxID          uint32 `yaml:"rx_id"`
	TargetAddress uint8  `yaml:"target_address"`
	SourceAddress uint8  `yaml:"source_address"`
}

type IsoTpConfig struct {
	// Padding is the fill byte for short frames; -1 sends frames unpadded.
	Padding       *int `yaml:"padding"`
	NBsMs         int  `yaml:"n_bs_ms"`
	NCrMs         int  `yaml:"n_cr_ms"`
	BlockSize     int  `yaml:"block_size"`
	StMin         int  `yaml:"st_min"`
	MaxWaitFrames int  `yaml:"max_wait_frames"`
}

type ClientConfig struct {
	TimeoutMs        int `yaml:"timeout_ms"`
	PendingPollMs    int `yaml:"pending_poll_ms"`
	PendingTimeoutMs int `yaml:"pending_timeout_ms"`
	MaxRetries       int `yaml:"max_retries"`
	RetryDelayMs     int `yaml:"retry_delay_ms"`
}

type SecurityConfig struct {
	Algorithm string `yaml:"algorithm"`
	XORMask   uint8  `yaml:"xor_mask"`
	// Secrets maps a level to its hex encoded AES key (cmac).
	Secrets map[uint8]string `yaml:"secrets,omitempty"`
	// Master is a hex encoded secret from which per level keys are derived
	// when Secrets is empty (cmac).
	Master           string  `yaml:"master,omitempty"`
	Levels           []uint8 `yaml:"levels"`
	KeyLength        int     `yaml:"key_length"`
	MaxAttempts      int     `yaml:"max_attempts"`
	DelayMs          int     `yaml:"delay_ms"`
	SeedTTLMs        int     `yaml:"seed_ttl_ms"`
	RequestTimeoutMs int     `yaml:"request_timeout_ms"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Dir           string `yaml:"dir"`
	Name          string `yaml:"name"`
	RotateMinutes int    `yaml:"rotate_minutes"`
}

type CaptureConfig struct {
	File string `yaml:"file"`
}

// Default returns the configuration used when no file is given: can0 with
// OBD style ids 0x7E0/0x7E8 and the XOR 0xFF example algorithm.
func Default() *Config {
	padding := 0x00
	return &Config{
		Link: LinkConfig{
			Interface:  "can0",
			Addressing: tp.Normal11bits.String(),
			TxID:       0x7E0,
			RxID:       0x7E8,
		},
		IsoTp: IsoTpConfig{
			Padding:       &padding,
			NBsMs:         1000,
			NCrMs:         1000,
			MaxWaitFrames: 10,
		},
		Client: ClientConfig{
			TimeoutMs:        1000,
			PendingPollMs:    100,
			PendingTimeoutMs: 5000,
			MaxRetries:       3,
			RetryDelayMs:     100,
		},
		Security: SecurityConfig{
			Algorithm:   AlgorithmXOR,
			XORMask:     0xFF,
			Levels:      []uint8{1},
			KeyLength:   4,
			MaxAttempts: 3,
			DelayMs:     10000,
			SeedTTLMs:   5000,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Name:          "udsdiag",
			RotateMinutes: 5,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Write stores cfg as YAML.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if !c.Link.Virtual && c.Link.Interface == "" {
		errs = append(errs, errors.New("link.interface is required unless link.virtual is set"))
	}
	if _, err := c.Address(); err != nil {
		errs = append(errs, fmt.Errorf("link: %w", err))
	}
	if c.IsoTp.Padding != nil && (*c.IsoTp.Padding < -1 || *c.IsoTp.Padding > 0xFF) {
		errs = append(errs, fmt.Errorf("isotp.padding must be -1 or 0..255, got %d", *c.IsoTp.Padding))
	}
	tpCfg := c.TPConfig()
	if err := tpCfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("isotp: %w", err))
	}
	if err := c.ClientOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	if err := c.SessionOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security: %w", err))
	}
	if _, err := c.KeyAlgorithm(); err != nil {
		errs = append(errs, fmt.Errorf("security: %w", err))
	}
	if c.Logging.RotateMinutes < 0 {
		errs = append(errs, errors.New("logging.rotate_minutes must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c *Config) Address() (*tp.Address, error) {
	mode, err := tp.ParseAddressingMode(c.Link.Addressing)
	if err != nil {
		return nil, err
	}
	return tp.NewAddress(mode, c.Link.TxID, c.Link.RxID, c.Link.TargetAddress, c.Link.SourceAddress)
}

func (c *Config) TPConfig() tp.Config {
	cfg := tp.DefaultConfig()
	switch {
	case c.IsoTp.Padding == nil:
	case *c.IsoTp.Padding < 0:
		cfg.PaddingByte = nil
	default:
		b := byte(*c.IsoTp.Padding)
		cfg.PaddingByte = &b
	}
	cfg.TimeoutN_Bs = ms(c.IsoTp.NBsMs)
	cfg.TimeoutN_Cr = ms(c.IsoTp.NCrMs)
	cfg.BlockSize = c.IsoTp.BlockSize
	cfg.StMin = c.IsoTp.StMin
	cfg.MaxWaitFrame = c.IsoTp.MaxWaitFrames
	return cfg
}

func (c *Config) ClientOptions() udsclient.Options {
	return udsclient.Options{
		Timeout:             ms(c.Client.TimeoutMs),
		PendingPollInterval: ms(c.Client.PendingPollMs),
		PendingTimeout:      ms(c.Client.PendingTimeoutMs),
		MaxRetries:          c.Client.MaxRetries,
		RetryDelay:          ms(c.Client.RetryDelayMs),
	}
}

func (c *Config) SessionOptions() session.Options {
	return session.Options{
		SecurityMaxAttempts: c.Security.MaxAttempts,
		SecurityDelay:       ms(c.Security.DelayMs),
		SeedTTL:             ms(c.Security.SeedTTLMs),
		RequestTimeout:      ms(c.Security.RequestTimeoutMs),
	}
}

// KeyAlgorithm builds the seed-to-key algorithm named by security.algorithm.
func (c *Config) KeyAlgorithm() (security.KeyAlgorithm, error) {
	s := c.Security
	switch strings.ToLower(s.Algorithm) {
	case AlgorithmXOR:
		return security.XORAlgorithm{Mask: s.XORMask}, nil
	case AlgorithmCMAC:
		if len(s.Secrets) > 0 {
			secrets := make(map[byte][]byte, len(s.Secrets))
			for level, text := range s.Secrets {
				key, err := hex.DecodeString(text)
				if err != nil {
					return nil, fmt.Errorf("secrets[%d]: %w", level, err)
				}
				secrets[level] = key
			}
			return security.NewCMACAlgorithm(secrets, s.KeyLength)
		}
		if s.Master == "" {
			return nil, errors.New("cmac needs secrets or master")
		}
		master, err := hex.DecodeString(s.Master)
		if err != nil {
			return nil, fmt.Errorf("master: %w", err)
		}
		if len(s.Levels) == 0 {
			return nil, errors.New("cmac with master needs levels")
		}
		return security.NewCMACFromMaster(master, slices.Clone(s.Levels), s.KeyLength)
	default:
		return nil, fmt.Errorf("unknown algorithm %q (want %s or %s)", s.Algorithm, AlgorithmXOR, AlgorithmCMAC)
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
