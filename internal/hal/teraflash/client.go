// Package teraflash implements the Teraflash THz-TDS remote protocol: short
// ASCII commands over UDP and one TCP connection per trace transfer.
//
// Some set commands carry a literal printf token (e.g. "%.1f") between the
// command and the value. The firmware requires it verbatim.
package teraflash

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal"
	"codeberg.org/teralab/teractl/internal/logger"
)

const (
	stateOn  = "ON"
	stateOff = "OFF"
)

var _ hal.Instrument = (*Client)(nil)

// Client talks to one Teraflash unit. It is safe for concurrent use, but
// every exchange is serialized.
type Client struct {
	opts       options
	log        logger.Logger
	errFactory errors.Factory

	mu      sync.Mutex
	host    string
	cmdAddr *net.UDPAddr
	rx      net.PacketConn
	tx      net.PacketConn
	channel int
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		opts:       o,
		log:        logger.Component("teraflash"),
		errFactory: errors.New(),
		channel:    o.channel,
	}
	c.log.Debug().
		Dur("timeout", o.timeout).
		Int("channel", o.channel).
		Msg("Teraflash client initialized")

	return c
}

// Connect binds the UDP sockets and probes the instrument with RD-RUN.
// On any failure the sockets are released.
func (c *Client) Connect(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info().Str("address", address).Msg("Connecting to Teraflash THz system")

	if address == "" {
		return c.errFactory.WithData(errors.ErrInvalidArgument, "empty address")
	}
	if c.connectedLocked() {
		c.releaseLocked()
	}

	cmdAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(c.opts.commandPort)))
	if err != nil {
		return c.errFactory.Wrap(errors.ErrConnectionFailed, err).WithData(address)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	rx, err := lc.ListenPacket(context.Background(), "udp4",
		net.JoinHostPort(c.opts.localAddr, strconv.Itoa(c.opts.receivePort)))
	if err != nil {
		return c.errFactory.Wrap(errors.ErrConnectionFailed, err).WithData("bind receive port")
	}
	tx, err := lc.ListenPacket(context.Background(), "udp4",
		net.JoinHostPort(c.opts.localAddr, strconv.Itoa(c.opts.transmitPort)))
	if err != nil {
		rx.Close()
		return c.errFactory.Wrap(errors.ErrConnectionFailed, err).WithData("bind transmit port")
	}
	c.log.Debug().
		Str("rx", rx.LocalAddr().String()).
		Str("tx", tx.LocalAddr().String()).
		Msg("UDP sockets bound")

	c.host = address
	c.cmdAddr = cmdAddr
	c.rx = rx
	c.tx = tx

	if err := c.probeLocked(); err != nil {
		c.log.Error().Err(err).Msg("Failed to connect to Teraflash THz system")
		c.releaseLocked()
		return err
	}

	c.log.Info().Msg("Connection established")
	return nil
}

func (c *Client) probeLocked() error {
	resp, err := c.exchangeLocked("RD-RUN", c.opts.probeTimeout)
	if err != nil {
		return c.errFactory.Wrap(ErrProbeFailed, err)
	}
	c.log.Debug().Str("response", resp).Msg("Probe response")

	if resp != stateOn && resp != stateOff {
		return c.errFactory.WithData(ErrProbeFailed, resp)
	}
	return nil
}

// Disconnect closes the UDP sockets. It is a no-op when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		return nil
	}
	if err := c.releaseLocked(); err != nil {
		return c.errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	c.log.Info().Msg("Disconnected from Teraflash THz system")
	return nil
}

func (c *Client) releaseLocked() error {
	var errs []error
	if c.tx != nil {
		errs = append(errs, c.tx.Close())
		c.tx = nil
	}
	if c.rx != nil {
		errs = append(errs, c.rx.Close())
		c.rx = nil
	}
	return errors.Join(errs...)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

func (c *Client) connectedLocked() bool {
	return c.tx != nil && c.rx != nil
}

// Query sends a raw RC/RD command and returns the reply.
func (c *Client) Query(cmd string) (string, error) {
	c.log.Info().Str("cmd", cmd).Msg("Query")
	resp, err := c.exchange(cmd)
	if err != nil {
		return "", err
	}
	c.log.Info().Str("response", resp).Msg("Query response")
	return resp, nil
}

// Timeout returns the configured reply timeout.
func (c *Client) Timeout() time.Duration {
	return c.opts.timeout
}

func (c *Client) exchange(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchangeLocked(cmd, c.opts.timeout)
}

func (c *Client) exchangeLocked(cmd string, timeout time.Duration) (string, error) {
	if !c.connectedLocked() {
		c.log.Error().Str("cmd", cmd).Msg("Attempted to send command while not connected")
		return "", c.errFactory.WithData(errors.ErrNotConnected, cmd)
	}

	c.drainLocked()

	c.log.Debug().Str("cmd", cmd).Msg("UDP TX")
	if _, err := c.tx.WriteTo([]byte(cmd), c.cmdAddr); err != nil {
		return "", c.errFactory.Wrap(errors.ErrOperationFailed, err).WithData(cmd)
	}

	if err := c.rx.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", c.errFactory.Wrap(errors.ErrOperationFailed, err).WithData(cmd)
	}
	buf := make([]byte, datagramSize)
	for {
		n, from, err := c.rx.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				return "", c.errFactory.Wrap(errors.ErrTimeout, err).WithData(cmd)
			}
			return "", c.errFactory.Wrap(errors.ErrOperationFailed, err).WithData(cmd)
		}
		if !c.fromInstrument(from) {
			c.log.Warn().Str("from", from.String()).Msg("Ignoring datagram from foreign host")
			continue
		}

		resp := strings.TrimSpace(string(buf[:n]))
		c.log.Debug().Str("response", resp).Msg("UDP RX")
		return resp, nil
	}
}

// fromInstrument reports whether a datagram came from the instrument's host.
// The reply port is not checked.
func (c *Client) fromInstrument(from net.Addr) bool {
	udp, ok := from.(*net.UDPAddr)
	return ok && udp.IP.Equal(c.cmdAddr.IP)
}

// drainLocked discards late replies to earlier commands that timed out, so
// the next read pairs with the next command.
func (c *Client) drainLocked() {
	buf := make([]byte, datagramSize)
	for {
		if err := c.rx.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return
		}
		n, _, err := c.rx.ReadFrom(buf)
		if err != nil {
			return
		}
		c.log.Warn().Str("response", strings.TrimSpace(string(buf[:n]))).Msg("Discarding stale reply")
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
