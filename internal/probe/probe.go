// Package probe runs the scheduled latency sweep over connected sessions.
package probe

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/sshdeck/internal/registry"
	"github.com/gluk-w/sshdeck/internal/terminal"
)

const probeTimeout = 10 * time.Second

// Prober periodically measures the round-trip latency of every connected
// session. Each measurement emits a latency event on its session.
type Prober struct {
	reg  *registry.Registry
	cron *cron.Cron
}

func New(reg *registry.Registry) *Prober {
	return &Prober{reg: reg, cron: cron.New()}
}

// Start schedules the sweep. schedule uses cron syntax, e.g. "@every 30s".
func (p *Prober) Start(schedule string) error {
	if _, err := p.cron.AddFunc(schedule, p.sweep); err != nil {
		return err
	}
	p.cron.Start()
	log.Printf("[probe] latency sweep scheduled: %s", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (p *Prober) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Prober) sweep() {
	for _, info := range p.reg.List() {
		if info.State != terminal.StateConnected {
			continue
		}
		id := info.ID
		err := p.reg.WithSession(id, func(s *terminal.Session) error {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			defer cancel()
			_, err := s.MeasureLatency(ctx)
			return err
		})
		if err != nil {
			// Busy or just dropped. The next sweep will catch it.
			log.Printf("[probe] latency probe for %s skipped: %v", id, err)
		}
	}
}
