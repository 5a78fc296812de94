package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

const defaultConsolidationInterval = 30 * time.Second

// Consolidator moves a [ContextManager]'s pending entries into a
// [memory.Store], either periodically or on demand.
type Consolidator struct {
	store      memory.Store
	contextMgr *ContextManager
	interval   time.Duration

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// ConsolidatorConfig configures a [Consolidator].
type ConsolidatorConfig struct {
	Store      memory.Store
	ContextMgr *ContextManager

	// Interval between flushes. Default: 30s.
	Interval time.Duration
}

// NewConsolidator returns a [Consolidator]. Call Start to run it.
func NewConsolidator(cfg ConsolidatorConfig) *Consolidator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultConsolidationInterval
	}
	return &Consolidator{
		store:      cfg.Store,
		contextMgr: cfg.ContextMgr,
		interval:   interval,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Restore loads up to limit of the newest persisted messages into the
// context manager.
func (c *Consolidator) Restore(ctx context.Context, limit int) (int, error) {
	entries, err := c.store.Recent(ctx, c.contextMgr.ConversationID(), limit)
	if err != nil {
		return 0, fmt.Errorf("restore history: %w", err)
	}
	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Text})
	}
	c.contextMgr.Load(msgs)
	return len(msgs), nil
}

// Run flushes every interval until ctx is done or Stop is called, then
// flushes one last time with a fresh context.
func (c *Consolidator) Run(ctx context.Context) error {
	defer close(c.stopped)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finalFlush()
			return nil
		case <-c.done:
			c.finalFlush()
			return nil
		case <-ticker.C:
			if err := c.ConsolidateNow(ctx); err != nil {
				slog.Warn("periodic consolidation failed",
					"conversation_id", c.contextMgr.ConversationID(), "err", err)
			}
		}
	}
}

// Stop ends Run and waits for its final flush. Safe to call more than once.
// Stop must only be called after Run has started.
func (c *Consolidator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	<-c.stopped
}

// ConsolidateNow writes all pending entries. Entries that fail to write are
// put back so the next flush retries them.
func (c *Consolidator) ConsolidateNow(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.contextMgr.TakePending()
	if len(pending) == 0 {
		return nil
	}
	if err := c.store.Append(ctx, pending...); err != nil {
		c.contextMgr.requeue(pending)
		return fmt.Errorf("consolidate %d entries: %w", len(pending), err)
	}
	return nil
}

func (c *Consolidator) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ConsolidateNow(ctx); err != nil {
		slog.Warn("final consolidation failed",
			"conversation_id", c.contextMgr.ConversationID(), "err", err)
	}
}
