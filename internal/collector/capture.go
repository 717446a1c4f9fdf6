package collector

import (
	"context"
	"fmt"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

// Capture stamps session metadata onto a new event and buffers it. It is a
// no-op unless the collector is Active and has storage. Reaching the flush
// threshold starts a flush unless one is already running.
func (c *Collector) Capture(eventType string, category event.Category, data map[string]any) error {
	if c.State() == Stopped {
		return ErrStopped
	}
	c.capture(eventType, category, data)
	return nil
}

func (c *Collector) capture(eventType string, category event.Category, data map[string]any) {
	if c.log == nil {
		return
	}
	// Read page state before taking mu; the page has its own lock.
	url := c.page.URL()
	ua := c.page.UserAgent()
	vp := c.page.Viewport()

	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	c.buffer = append(c.buffer, event.Event{
		Type:      eventType,
		Category:  category,
		Timestamp: c.clock.Now(),
		SessionID: c.sessionID,
		PageURL:   url,
		Site:      c.site,
		Adapter:   string(c.variant),
		UserAgent: ua,
		Viewport:  event.Viewport{Width: vp.Width, Height: vp.Height},
		Data:      data,
	})
	var batch []event.Event
	if len(c.buffer) >= c.threshold && !c.flushing {
		batch = c.beginFlushLocked()
	}
	ctx := c.ctx
	c.mu.Unlock()

	c.metrics.EventCaptured(string(category))
	if batch != nil {
		c.spawnFlush(ctx, batch)
	}
}

// Flush drains the buffer and persists it, then attempts an upload. It returns
// nil without doing anything when the buffer is empty or a flush is already
// running. Only persistence errors are returned; upload failures are logged.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.flushing || (len(c.buffer) == 0 && len(c.carry) == 0) {
		c.mu.Unlock()
		return nil
	}
	batch := c.beginFlushLocked()
	c.mu.Unlock()
	return c.deliver(ctx, batch)
}

// scheduledFlush runs on the flush interval.
func (c *Collector) scheduledFlush() {
	c.mu.Lock()
	if c.state != Active || c.flushing || len(c.buffer)+len(c.carry) < c.lowWater {
		c.mu.Unlock()
		return
	}
	batch := c.beginFlushLocked()
	ctx := c.ctx
	c.mu.Unlock()
	c.spawnFlush(ctx, batch)
}

// beginFlushLocked sets the in-flight guard and drains. Must be called with
// mu held; the matching deliver releases the guard.
func (c *Collector) beginFlushLocked() []event.Event {
	c.flushing = true
	c.flushes.Add(1)
	return c.drainLocked()
}

// drainLocked swaps in a fresh buffer so captures during the flush never join
// the batch being persisted. Must be called with mu held.
func (c *Collector) drainLocked() []event.Event {
	batch := append(c.carry, c.buffer...)
	c.carry = nil
	c.buffer = nil
	return batch
}

func (c *Collector) spawnFlush(ctx context.Context, batch []event.Event) {
	c.spawn(func() {
		if err := c.deliver(ctx, batch); err != nil {
			c.logger.Warn("flush failed", "error", err)
		}
	})
}

// deliver persists batch and then tries to upload it. The in-flight guard is
// released when it returns.
func (c *Collector) deliver(ctx context.Context, batch []event.Event) (err error) {
	res := FlushResult{SessionID: c.SessionID(), Drained: len(batch)}
	defer func() {
		defer c.flushes.Done()
		c.mu.Lock()
		c.flushing = false
		if err != nil {
			// Persist failed: keep the batch ahead of anything captured since.
			c.carry = append(batch, c.carry...)
		}
		c.mu.Unlock()
		res.Err = err
		c.metrics.Flushed(len(batch), err)
		if c.onFlush != nil {
			c.onFlush(res)
		}
	}()

	total, err := c.log.Append(ctx, batch)
	if err != nil {
		return fmt.Errorf("persist %d events: %w", len(batch), err)
	}
	res.Persisted = total
	c.logger.Debug("flushed", "events", len(batch), "total", total)

	if c.uploader != nil {
		report := c.uploader.Dispatch(ctx, batch)
		res.Upload = &report
		if !report.Skipped {
			c.metrics.Upload(report.Result.String())
		}
	}
	return nil
}

// ScrollMilestones exposes the crossed scroll milestones, for tests and stats.
func (c *Collector) ScrollMilestones() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.milestones == nil {
		return nil
	}
	var out []int
	for _, m := range []int{25, 50, 75, 100} {
		if c.milestones.Reached(m) {
			out = append(out, m)
		}
	}
	return out
}

func elementData(el *page.Element) map[string]any {
	d := map[string]any{"tag": el.Tag}
	if el.ID != "" {
		d["id"] = el.ID
	}
	if len(el.Classes) > 0 {
		d["classes"] = el.Classes
	}
	if role := el.Role(); role != "" {
		d["role"] = role
	}
	if sig := el.Signature(); sig != "" {
		d["selector"] = sig
	}
	return d
}
