package engine

import (
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/registry"
)

// Query sends raw commands to connected instruments.
type Query struct {
	registry   *registry.Registry
	log        logger.Logger
	errFactory errors.Factory
}

func NewQuery(reg *registry.Registry) *Query {
	return &Query{
		registry:   reg,
		log:        logger.Component("query"),
		errFactory: errors.New(),
	}
}

func (q *Query) Query(name, cmd string) (string, error) {
	inst, err := q.registry.Get(name)
	if err != nil {
		return "", err
	}
	if !inst.IsConnected() {
		return "", q.errFactory.WithData(errors.ErrNotConnected, name)
	}

	reply, err := inst.Query(cmd)
	if err != nil {
		q.log.Error().Err(err).Str("instrument", name).Str("cmd", cmd).Msg("Query failed")
		return "", err
	}
	return reply, nil
}
