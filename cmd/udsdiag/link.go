package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsdiag/capture"
	"github.com/LoveWonYoung/udsdiag/config"
	"github.com/LoveWonYoung/udsdiag/driver"
	"github.com/LoveWonYoung/udsdiag/ecusim"
	"github.com/LoveWonYoung/udsdiag/logrecorder"
	"github.com/LoveWonYoung/udsdiag/session"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/udsclient"
)

// loadConfig reads --config over the defaults and applies flag overrides.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("iface") {
		cfg.Link.Interface = g.iface
	}
	if flags.Changed("tx") {
		id, err := parseID(g.tx)
		if err != nil {
			return nil, fmt.Errorf("--tx: %w", err)
		}
		cfg.Link.TxID = id
	}
	if flags.Changed("rx") {
		id, err := parseID(g.rx)
		if err != nil {
			return nil, fmt.Errorf("--rx: %w", err)
		}
		cfg.Link.RxID = id
	}
	if flags.Changed("virtual") {
		cfg.Link.Virtual = g.virtual
	}
	if flags.Changed("capture") {
		cfg.Capture.File = g.capture
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if flags.Changed("log-dir") {
		cfg.Logging.Dir = g.logDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newRecorder(cfg *config.Config) (*logrecorder.Recorder, error) {
	level, err := logrecorder.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logrecorder.New(logrecorder.Options{
		Dir:     cfg.Logging.Dir,
		Name:    cfg.Logging.Name,
		Rotate:  time.Duration(cfg.Logging.RotateMinutes) * time.Minute,
		Level:   level,
		Console: os.Stderr,
	})
}

// openBus opens the configured CAN binding. On a virtual link the
// simulated ECU is started on the far end and stopped by the returned
// close function.
func openBus(cfg *config.Config, addr *tp.Address, lf logging.LoggerFactory) (driver.Bus, func() error, error) {
	var (
		bus     driver.Bus
		closeFn func() error
	)
	if cfg.Link.Virtual {
		pair := driver.NewVirtualPair()
		ecu, err := ecusim.New(pair.Remote(), addr.Reverse(), cfg.TPConfig(), ecusim.DefaultConfig(), lf)
		if err != nil {
			pair.Close()
			return nil, nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- ecu.Run(ctx) }()
		bus = pair.Local()
		closeFn = func() error {
			cancel()
			err := <-done
			return errors.Join(err, pair.Close())
		}
	} else {
		sc, err := driver.OpenSocketCAN(cfg.Link.Interface, driver.ExactFilter(addr.RxID, addr.Is29Bit()))
		if err != nil {
			return nil, nil, err
		}
		bus = sc
		closeFn = sc.Close
	}

	if cfg.Capture.File == "" {
		return bus, closeFn, nil
	}
	rb, err := capture.CreateFile(bus, cfg.Capture.File)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	innerClose := closeFn
	closeFn = func() error {
		return errors.Join(rb.Close(), innerClose())
	}
	return rb, closeFn, nil
}

// link is one tester connection built from the configuration.
type link struct {
	cfg   *config.Config
	rec   *logrecorder.Recorder
	sess  *session.Session
	close func() error
}

func openLink(cmd *cobra.Command, g *globalFlags) (*link, error) {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	rec, err := newRecorder(cfg)
	if err != nil {
		return nil, err
	}
	l, err := buildLink(cfg, rec)
	if err != nil {
		rec.Close()
		return nil, err
	}
	return l, nil
}

func buildLink(cfg *config.Config, rec *logrecorder.Recorder) (*link, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	keys, err := cfg.KeyAlgorithm()
	if err != nil {
		return nil, err
	}
	bus, closeBus, err := openBus(cfg, addr, rec)
	if err != nil {
		return nil, err
	}
	transport, err := tp.NewTransport(bus, addr, cfg.TPConfig(), rec)
	if err != nil {
		closeBus()
		return nil, err
	}
	client, err := udsclient.NewClient(transport, cfg.ClientOptions(), rec)
	if err != nil {
		closeBus()
		return nil, err
	}
	sess, err := session.New(client, keys,
		session.WithOptions(cfg.SessionOptions()),
		session.WithLoggerFactory(rec),
	)
	if err != nil {
		closeBus()
		return nil, err
	}
	return &link{
		cfg:  cfg,
		rec:  rec,
		sess: sess,
		close: func() error {
			return errors.Join(closeBus(), rec.Close())
		},
	}, nil
}

// prepare enters --session and unlocks --level when given.
func (l *link) prepare(ctx context.Context, g *globalFlags) error {
	if g.session != "" {
		t, err := parseSessionType(g.session)
		if err != nil {
			return err
		}
		if err := l.sess.StartSession(ctx, t); err != nil {
			return fmt.Errorf("enter %v session: %w", t, err)
		}
	}
	if g.level != "" {
		level, err := parseLevel(g.level)
		if err != nil {
			return err
		}
		if err := l.sess.SecurityUnlock(ctx, level); err != nil {
			return fmt.Errorf("unlock level %d: %w", level, err)
		}
	}
	return nil
}

// withSession opens the link, runs prepare and fn, and closes the link.
func withSession(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, s *session.Session) error) error {
	l, err := openLink(cmd, g)
	if err != nil {
		return err
	}
	defer l.close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := l.prepare(ctx, g); err != nil {
		return err
	}
	return fn(ctx, l.sess)
}
