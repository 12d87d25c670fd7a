package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Heartbeat emits increasing round numbers at a fixed interval. A tick is
// dropped while the consumer still holds the previous round, so delivered
// rounds stay consecutive.
type Heartbeat struct {
	interval time.Duration
	rounds   chan uint64
	log      *zerolog.Logger
}

// NewHeartbeat creates a ticker; call Run to start it.
func NewHeartbeat(interval time.Duration, logger *zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Heartbeat{
		interval: interval,
		rounds:   make(chan uint64, 1),
		log:      logger,
	}
}

// Rounds is consumed by exactly one Hub.
func (h *Heartbeat) Rounds() <-chan uint64 {
	return h.rounds
}

// Run ticks until ctx is cancelled, then closes the rounds channel.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.rounds)

	next := uint64(1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case h.rounds <- next:
				next++
			default:
				h.log.Debug().Uint64("round", next).Msg("heartbeat round dropped, hub busy")
			}
		}
	}
}
