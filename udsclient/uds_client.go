// Package udsclient correlates UDS requests with their responses over an
// ISO-TP transport.
package udsclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/uds"
)

const (
	defaultTimeout             = 1000 * time.Millisecond
	defaultPendingPollInterval = 100 * time.Millisecond
	defaultPendingTimeout      = 5000 * time.Millisecond
	defaultMaxRetries          = 3
	defaultRetryDelay          = 100 * time.Millisecond
)

// Transport is the message-level link the client talks through.
// *tp.Transport satisfies it.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Flush() (int, error)
}

var _ Transport = (*tp.Transport)(nil)

// Options controls timing and retry behaviour of SendAndAwait.
type Options struct {
	Timeout             time.Duration // wait for the first response frame
	PendingPollInterval time.Duration // re-poll period after NRC 0x78
	PendingTimeout      time.Duration // overall wait once NRC 0x78 was seen
	MaxRetries          int           // repeats on NRC 0x21
	RetryDelay          time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:             defaultTimeout,
		PendingPollInterval: defaultPendingPollInterval,
		PendingTimeout:      defaultPendingTimeout,
		MaxRetries:          defaultMaxRetries,
		RetryDelay:          defaultRetryDelay,
	}
}

func (o Options) Validate() error {
	var errs []error
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if o.PendingPollInterval <= 0 {
		errs = append(errs, errors.New("pending poll interval must be positive"))
	}
	if o.PendingTimeout < o.PendingPollInterval {
		errs = append(errs, fmt.Errorf("pending timeout %v is shorter than poll interval %v", o.PendingTimeout, o.PendingPollInterval))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if o.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay must not be negative"))
	}
	return errors.Join(errs...)
}

// Client allows one outstanding request at a time. A second caller is
// rejected with ErrRequestInProgress instead of being queued.
type Client struct {
	transport Transport
	opts      Options
	inFlight  atomic.Bool
	log       logging.LeveledLogger
}

func NewClient(transport Transport, opts Options, loggerFactory logging.LoggerFactory) (*Client, error) {
	if transport == nil {
		return nil, errors.New("udsclient: transport is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("udsclient: invalid options: %w", err)
	}
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		transport: transport,
		opts:      opts,
		log:       loggerFactory.NewLogger("udsclient"),
	}, nil
}

func (c *Client) Options() Options { return c.opts }

// SendAndAwait sends req and returns the decoded final response. Negative
// responses other than 0x78 are returned as a Response with Negative set,
// not as an error; a timeout <= 0 selects Options.Timeout.
func (c *Client) SendAndAwait(ctx context.Context, req uds.Request, timeout time.Duration) (uds.Response, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return uds.Response{}, ErrRequestInProgress
	}
	defer c.inFlight.Store(false)

	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	for attempt := 0; ; attempt++ {
		resp, err := c.exchange(ctx, req, timeout)
		if err != nil {
			return uds.Response{}, err
		}
		if !resp.Negative || resp.NRC != uds.NRCBusyRepeatRequest || attempt >= c.opts.MaxRetries {
			return resp, nil
		}
		c.log.Debugf("busy response to SID 0x%02X, retry %d/%d", req.ServiceID, attempt+1, c.opts.MaxRetries)
		if err := sleepContext(ctx, c.opts.RetryDelay); err != nil {
			return uds.Response{}, err
		}
	}
}

func (c *Client) exchange(ctx context.Context, req uds.Request, timeout time.Duration) (uds.Response, error) {
	dropped, err := c.transport.Flush()
	if err != nil {
		return uds.Response{}, fmt.Errorf("flush before SID 0x%02X: %w", req.ServiceID, err)
	}
	if dropped > 0 {
		c.log.Debugf("dropped %d stale frames before SID 0x%02X", dropped, req.ServiceID)
	}

	c.log.Debugf("tx [%v]", req)
	if err := c.transport.Send(ctx, uds.Encode(req)); err != nil {
		return uds.Response{}, err
	}

	raw, err := c.transport.Receive(ctx, timeout)
	if err != nil {
		var rte tp.ReceiveTimeoutError
		if errors.As(err, &rte) {
			return uds.Response{}, &NoResponseError{ServiceID: req.ServiceID, Wait: timeout, Err: err}
		}
		return uds.Response{}, err
	}
	c.log.Debugf("rx [% X]", raw)

	resp, err := uds.Decode(req.ServiceID, raw)
	if err != nil {
		return uds.Response{}, err
	}
	if resp.IsResponsePending() {
		return c.awaitFinal(ctx, req)
	}
	return resp, nil
}

// awaitFinal keeps polling after NRC 0x78 until a different response
// arrives or PendingTimeout has elapsed since the first pending reply.
func (c *Client) awaitFinal(ctx context.Context, req uds.Request) (uds.Response, error) {
	pending := 1
	c.log.Debugf("response pending for SID 0x%02X", req.ServiceID)
	deadline := time.Now().Add(c.opts.PendingTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return uds.Response{}, &ResponsePendingTimeoutError{ServiceID: req.ServiceID, Wait: c.opts.PendingTimeout, Pending: pending}
		}
		raw, err := c.transport.Receive(ctx, min(c.opts.PendingPollInterval, remaining))
		if err != nil {
			var rte tp.ReceiveTimeoutError
			if errors.As(err, &rte) {
				continue
			}
			return uds.Response{}, err
		}
		resp, err := uds.Decode(req.ServiceID, raw)
		if err != nil {
			return uds.Response{}, err
		}
		if resp.IsResponsePending() {
			pending++
			continue
		}
		c.log.Debugf("rx [% X] after %d pending replies", raw, pending)
		return resp, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
