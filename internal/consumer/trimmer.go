package consumer

import (
	"context"
	"time"
)

const trimLockID = "stream-trim"

// trimLoop implements the Trimmer state machine of spec.md §4.5:
// Idle → AcquiringLock → Trimming → Releasing → Idle, on an interval of
// TrimStreamInterval. The lock is released explicitly on success but,
// per spec, also expires by TTL on crash so a dead trimmer never wedges
// trimming for the rest of the pool.
func (p *RedisStreamPool) trimLoop(ctx context.Context) {
	if p.cfg.TrimStreamInterval < 0 {
		return
	}

	ticker := time.NewTicker(p.cfg.TrimStreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tryTrim(ctx)
		}
	}
}

func (p *RedisStreamPool) tryTrim(ctx context.Context) {
	lockName := trimLockID + ":" + p.stream
	acquired, err := p.locks.AcquireLocks(ctx, []string{lockName}, p.cfg.TrimLockTimeout)
	if err != nil {
		p.log.Error("trim lock acquisition failed", "stream", p.stream, "error", err)
		return
	}
	if len(acquired) == 0 || !acquired[0] {
		return
	}
	defer func() {
		if err := p.locks.ReleaseLocks(ctx, []string{lockName}); err != nil {
			p.log.Error("trim lock release failed", "stream", p.stream, "error", err)
		}
	}()

	var trimErr error
	if p.cfg.MaxStreamLength > 0 {
		trimErr = p.client.TrimMaxLen(ctx, p.stream, p.cfg.MaxStreamLength)
	} else {
		lastID, ok, err := p.client.GetOptional(ctx, p.cursorKey())
		if err != nil {
			p.log.Error("trim read cursor failed", "stream", p.stream, "error", err)
			return
		}
		if !ok || lastID == "" {
			return
		}
		trimErr = p.client.TrimMinID(ctx, p.stream, lastID)
	}
	if trimErr != nil {
		p.log.Error("stream trim failed", "stream", p.stream, "error", trimErr)
	}
}
