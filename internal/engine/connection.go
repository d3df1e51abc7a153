// Package engine wraps instrument clients with uniform error handling,
// idempotence and instrument lookup for the control surface and the runner.
package engine

import (
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/registry"
	"github.com/puzpuzpuz/xsync/v3"
)

// Connection tracks connection state per instrument name. Concurrent
// connect attempts on one name are rejected rather than queued.
type Connection struct {
	registry   *registry.Registry
	connecting *xsync.MapOf[string, struct{}]
	connected  *xsync.MapOf[string, bool]
	lastErr    *xsync.MapOf[string, error]
	log        logger.Logger
	errFactory errors.Factory
}

func NewConnection(reg *registry.Registry) *Connection {
	return &Connection{
		registry:   reg,
		connecting: xsync.NewMapOf[string, struct{}](),
		connected:  xsync.NewMapOf[string, bool](),
		lastErr:    xsync.NewMapOf[string, error](),
		log:        logger.Component("connection"),
		errFactory: errors.New(),
	}
}

// Connect connects the named instrument. A failure is recorded as the
// instrument's last error and leaves it disconnected.
func (c *Connection) Connect(name, address string) error {
	inst, err := c.registry.Get(name)
	if err != nil {
		return err
	}

	if _, busy := c.connecting.LoadOrStore(name, struct{}{}); busy {
		c.log.Warn().Str("instrument", name).Msg("Connect rejected: already connecting")
		return c.errFactory.WithData(ErrAlreadyConnecting, name)
	}
	defer c.connecting.Delete(name)

	c.log.Info().Str("instrument", name).Str("address", address).Msg("Connecting")
	if err := inst.Connect(address); err != nil {
		c.connected.Store(name, false)
		c.lastErr.Store(name, err)
		c.log.Error().Err(err).Str("instrument", name).Msg("Connect failed")
		return err
	}

	c.connected.Store(name, true)
	c.log.Info().Str("instrument", name).Msg("Connected")
	return nil
}

// Disconnect disconnects the named instrument. The cached state is cleared
// even when the client reports an error.
func (c *Connection) Disconnect(name string) error {
	inst, err := c.registry.Get(name)
	if err != nil {
		return err
	}
	defer c.connected.Store(name, false)

	if err := inst.Disconnect(); err != nil {
		c.log.Error().Err(err).Str("instrument", name).Msg("Disconnect failed")
		return err
	}
	c.log.Info().Str("instrument", name).Msg("Disconnected")
	return nil
}

// IsConnected returns the cached connection state.
func (c *Connection) IsConnected(name string) bool {
	ok, _ := c.connected.Load(name)
	return ok
}

// IsConnecting reports whether a connect attempt is in flight.
func (c *Connection) IsConnecting(name string) bool {
	_, ok := c.connecting.Load(name)
	return ok
}

// LastError returns the most recent connect failure, or nil.
func (c *Connection) LastError(name string) error {
	err, _ := c.lastErr.Load(name)
	return err
}

// Status returns the cached state of every registered instrument.
func (c *Connection) Status() map[string]bool {
	out := make(map[string]bool)
	for _, name := range c.registry.Names() {
		out[name] = c.IsConnected(name)
	}
	return out
}
