// Package registry owns the instrument clients by logical name.
package registry

import (
	"sync"

	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal"
	"codeberg.org/teralab/teractl/internal/logger"
)

const (
	ErrAlreadyRegistered errors.ErrorCode = "registry_already_registered"
	ErrNotRegistered     errors.ErrorCode = "registry_not_registered"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrAlreadyRegistered: "Instrument already registered",
		ErrNotRegistered:     "Instrument not registered",
	})
}

// Registry is the single owner of instrument clients. It applies no
// connection policy.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	instruments map[string]hal.Instrument
	log         logger.Logger
	errFactory  errors.Factory
}

func New() *Registry {
	return &Registry{
		instruments: make(map[string]hal.Instrument),
		log:         logger.Component("registry"),
		errFactory:  errors.New(),
	}
}

// Register takes ownership of inst under name.
func (r *Registry) Register(name string, inst hal.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instruments[name]; ok {
		return r.errFactory.WithData(ErrAlreadyRegistered, name)
	}
	r.instruments[name] = inst
	r.order = append(r.order, name)
	r.log.Debug().Str("instrument", name).Msg("Registered")
	return nil
}

// Get returns the instrument registered under name.
func (r *Registry) Get(name string) (hal.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instruments[name]
	if !ok {
		return nil, r.errFactory.WithData(ErrNotRegistered, name)
	}
	return inst, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) IsConnected(name string) (bool, error) {
	inst, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return inst.IsConnected(), nil
}

// Describe returns the status snapshot of one instrument.
func (r *Registry) Describe(name string) (hal.Status, error) {
	inst, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.Status(), nil
}

// DisconnectAll disconnects every instrument, logging failures instead of
// returning them.
func (r *Registry) DisconnectAll() {
	for _, name := range r.Names() {
		inst, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := inst.Disconnect(); err != nil {
			r.log.Error().Err(err).Str("instrument", name).Msg("Disconnect failed")
		}
	}
}
