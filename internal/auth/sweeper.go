package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically deletes dead refresh tokens.
type Sweeper struct {
	svc      *TokenService
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(svc *TokenService, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run sweeps once per interval until ctx is cancelled. Errors are logged
// and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := s.svc.SweepExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("refresh token sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Msg("refresh token sweep")
	}
}
