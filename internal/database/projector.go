package database

import (
	"context"

	"github.com/rs/zerolog"

	"goatclash/internal/game"
)

// Projector keeps the bets and engine_state tables in step with the event stream.
type Projector struct {
	store  *Store
	logger zerolog.Logger
}

func NewProjector(store *Store, logger zerolog.Logger) *Projector {
	return &Projector{
		store:  store,
		logger: logger.With().Str("component", "projector").Logger(),
	}
}

func (p *Projector) Name() string {
	return "postgres"
}

func (p *Projector) Handle(ctx context.Context, ev game.Event) error {
	if err := p.store.Apply(ctx, ev); err != nil {
		return err
	}
	p.logger.Debug().Uint64("seq", ev.Seq).Str("event", string(ev.Type)).Msg("projected")
	return nil
}
