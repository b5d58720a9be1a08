package mailbox

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "botte/pkg/logx"
)

// sweepEvery returns how often the cache is pruned for a given retention.
func sweepEvery(retention time.Duration) time.Duration {
	every := retention / 4
	if every < time.Minute {
		every = time.Minute
	}
	if every > time.Hour {
		every = time.Hour
	}
	return every
}

// RunRetention prunes records older than retention on a cron interval until ctx ends.
// A non-positive retention keeps every record forever and returns immediately.
func (p *Poller) RunRetention(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(sweepEvery(retention)), cron.FuncJob(func() {
		p.sweep(retention)
	}))
	c.Start()
	p.log.Info("dedup retention enabled", logx.Duration("retention", retention), logx.Duration("every", sweepEvery(retention)))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (p *Poller) sweep(retention time.Duration) int {
	n := p.cache.Prune(p.now().Add(-retention))
	if n > 0 {
		p.log.Debug("dedup records pruned", logx.Int("removed", n), logx.Int("kept", p.cache.Len()))
	}
	return n
}
