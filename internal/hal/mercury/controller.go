// Package mercury implements the line-oriented ASCII protocol shared by the
// Oxford Instruments Mercury iTC and iPS controllers.
package mercury

import (
	"bufio"
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
	DefaultPort    = 7020
	DefaultTimeout = 5 * time.Second
)

var _ hal.Instrument = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPort sets the port used when the address carries none.
func WithPort(port int) Option {
	return func(c *Controller) {
		if port > 0 {
			c.port = port
		}
	}
}

// Controller is a client for one Mercury controller over a persistent TCP
// connection. Requests are strictly synchronous.
type Controller struct {
	profile    Profile
	timeout    time.Duration
	port       int
	log        logger.Logger
	errFactory errors.Factory

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	devices []Device
	byName  map[string]Device
	// stale counts replies still owed for timed-out requests.
	stale int
}

// New creates a disconnected controller with the given profile.
func New(profile Profile, opts ...Option) *Controller {
	c := &Controller{
		profile:    profile,
		timeout:    DefaultTimeout,
		port:       DefaultPort,
		log:        logger.Component("mercury").With("model", profile.Model),
		errFactory: errors.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile returns the controller's profile.
func (c *Controller) Profile() Profile {
	return c.profile
}

// Connect opens the TCP connection and reads the device catalogue. The
// address may carry a port; otherwise the default port is used.
func (c *Controller) Connect(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.errFactory.WithData(ErrAlreadyConnect, c.profile.Model)
	}
	if address == "" {
		return c.errFactory.WithData(errors.ErrInvalidArgument, "empty address")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(c.port))
	}

	c.log.Info().Str("address", address).Msg("Connecting")
	conn, err := net.DialTimeout("tcp", address, c.timeout)
	if err != nil {
		return c.errFactory.Wrap(errors.ErrConnectionFailed, err).WithData(address)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	if err := c.loadCatalogueLocked(); err != nil {
		c.log.Error().Err(err).Msg("Failed to read catalogue")
		c.releaseLocked()
		return err
	}

	c.log.Info().Int("devices", len(c.devices)).Msg("Connection established")
	return nil
}

func (c *Controller) loadCatalogueLocked() error {
	reply, err := c.sendLocked("READ:SYS:CAT")
	if err != nil {
		return c.errFactory.Wrap(ErrBadCatalogue, err)
	}
	devices, ok := parseCatalogue(reply)
	if !ok {
		return c.errFactory.WithData(ErrBadCatalogue, reply)
	}

	byName := make(map[string]Device, len(devices))
	for i := range devices {
		d := &devices[i]
		nick, err := c.sendLocked("READ:DEV:" + d.ID + ":NICK")
		switch {
		case errors.HasCode(err, errors.ErrConnectionClosed):
			return err
		case err != nil:
			c.log.Warn().Err(err).Str("device", d.ID).Msg("Nickname unavailable")
		default:
			if name := lastSegment(nick); name != "" && name != "INVALID" && name != "NOT_FOUND" {
				d.Name = name
			}
		}
		byName[d.Name] = *d
		c.log.Debug().Str("device", d.ID).Str("name", d.Name).Msg("Catalogue entry")
	}

	c.devices = devices
	c.byName = byName
	return nil
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.releaseLocked(); err != nil {
		return c.errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	c.log.Info().Msg("Disconnected")
	return nil
}

func (c *Controller) releaseLocked() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.stale = 0
	c.devices = nil
	c.byName = nil
	return err
}

func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Query sends a raw command line, e.g. "*IDN?", and returns the reply.
func (c *Controller) Query(cmd string) (string, error) {
	c.log.Info().Str("cmd", cmd).Msg("Query")
	return c.send(cmd)
}

func (c *Controller) send(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(cmd)
}

// sendLocked writes one line and reads the matching reply. READ and SET
// replies echo the command path, so lines left over from an earlier timed-out
// request are discarded. A command without an echo cannot be told apart from
// a late reply, so its timeout releases the socket, as does a connection
// closed before a full line arrives.
func (c *Controller) sendLocked(cmd string) (string, error) {
	if c.conn == nil {
		return "", c.errFactory.WithData(errors.ErrNotConnected, cmd)
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", c.errFactory.Wrap(errors.ErrOperationFailed, err).WithData(cmd)
	}

	c.log.Debug().Str("cmd", cmd).Msg("TX")
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", c.errFactory.Wrap(errors.ErrOperationFailed, err).WithData(cmd)
	}

	path := echo(cmd)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && path != "" {
				c.stale++
				return "", c.errFactory.Wrap(errors.ErrTimeout, err).WithData(cmd)
			}
			c.log.Error().Err(err).Str("cmd", cmd).Msg("Connection lost")
			c.releaseLocked()
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", c.errFactory.Wrap(errors.ErrTimeout, err).WithData(cmd)
			}
			return "", c.errFactory.Wrap(errors.ErrConnectionClosed, err).WithData(cmd)
		}

		reply := strings.TrimSpace(line)
		c.log.Debug().Str("reply", reply).Msg("RX")
		if c.staleLocked(reply, path) {
			c.log.Warn().Str("cmd", cmd).Str("reply", reply).Msg("Discarding stale reply")
			if c.stale > 0 {
				c.stale--
			}
			continue
		}
		return reply, nil
	}
}

// echo returns the leading part of the reply to cmd, "STAT:" followed by the
// command path, or "" for commands such as *IDN? whose reply does not repeat
// them.
func echo(cmd string) string {
	switch {
	case strings.HasPrefix(cmd, "READ:"):
		return "STAT:" + strings.TrimPrefix(cmd, "READ:")
	case strings.HasPrefix(cmd, "SET:"):
		return "STAT:" + cmd
	default:
		return ""
	}
}

func echoes(reply, path string) bool {
	return reply == path || strings.HasPrefix(reply, path+":")
}

func (c *Controller) staleLocked(reply, path string) bool {
	if path != "" {
		return !echoes(reply, path)
	}
	return c.stale > 0 && strings.HasPrefix(reply, "STAT:")
}

// Devices returns the catalogue in controller order.
func (c *Controller) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Device(nil), c.devices...)
}

// Device looks up a device by name.
func (c *Controller) Device(name string) (Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byName[name]
	return d, ok
}

// FirstOfKind returns the first catalogue device of the given kind.
func (c *Controller) FirstOfKind(kind Kind) (Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.Kind == kind {
			return d, true
		}
	}
	return Device{}, false
}
