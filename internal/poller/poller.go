// Package poller drives one periodic task per non-modem device, refreshing
// every tag from the Modbus Client Pool into the Tag Store and republishing
// to the Address-Space Bridge. Each device gets its own goroutine and
// ticker, so one device's poll interval and non-overlap guarantee are
// independent of every other device's.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"modbus-bridge/internal/codec"
	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

// ClientPool is the subset of modbusclient.Pool the poller needs.
type ClientPool interface {
	EnsureConnected(deviceID string) error
	ReadRegion(deviceID string, tag *model.Tag) ([]uint16, error)
}

// Republisher is notified after a tag's value changes so it can push the
// new sample to the Address-Space Bridge. Implemented by
// internal/addressspace.
type Republisher interface {
	Republish(deviceID, tagName string)
}

// Recorder receives poll outcome counts, implemented by
// bridgemetrics.Metrics. Optional: a nil Recorder (the zero value of
// Poller) disables metrics recording.
type Recorder interface {
	ObservePoll(deviceID string)
	ObservePollFailure(deviceID string)
}

// Poller runs one ticking task per device.
type Poller struct {
	logger   *zap.Logger
	pool     ClientPool
	store    *tagstore.Store
	pub      Republisher
	recorder Recorder

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// SetRecorder attaches a metrics recorder. Optional; skip it in tests.
func (p *Poller) SetRecorder(r Recorder) { p.recorder = r }

// New creates a Poller bound to the given collaborators.
func New(logger *zap.Logger, pool ClientPool, store *tagstore.Store, pub Republisher) *Poller {
	return &Poller{
		logger:  logger,
		pool:    pool,
		store:   store,
		pub:     pub,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start begins ticking device at its configured poll interval. Calling
// Start twice for the same device id replaces the previous task.
func (p *Poller) Start(ctx context.Context, device *model.Device) {
	p.Stop(device.ID)

	taskCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[device.ID] = cancel
	p.mu.Unlock()

	interval := time.Duration(device.PollInterval) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}

	go p.run(taskCtx, device, interval)
}

// Stop cancels the running task for deviceID, if any. It is safe to call
// on a device with no running task.
func (p *Poller) Stop(deviceID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[deviceID]
	delete(p.cancels, deviceID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Poller) run(ctx context.Context, device *model.Device, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tickMu sync.Mutex
	ticking := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks on the same device never overlap: if the
			// previous tick is still running, this one is
			// skipped rather than queued.
			tickMu.Lock()
			if ticking {
				tickMu.Unlock()
				continue
			}
			ticking = true
			tickMu.Unlock()

			p.tick(ctx, device)

			tickMu.Lock()
			ticking = false
			tickMu.Unlock()

			// Discard a tick the ticker buffered while this one ran.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context, device *model.Device) {
	if p.recorder != nil {
		p.recorder.ObservePoll(device.ID)
	}

	if err := p.pool.EnsureConnected(device.ID); err != nil {
		p.logger.Warn("poll skipped, device not connected", zap.String("device", device.ID), zap.Error(err))
		if p.recorder != nil {
			p.recorder.ObservePollFailure(device.ID)
		}
		return
	}

	for _, tag := range device.Tags {
		select {
		case <-ctx.Done():
			return
		default:
		}

		words, err := p.pool.ReadRegion(device.ID, tag)
		if err != nil {
			// Tag Store keeps its last good value; the transport
			// has already been recycled by the pool, so the rest
			// of this tick is abandoned and the next tick retries.
			p.logger.Warn("poll tag read failed, aborting tick", zap.String("device", device.ID), zap.String("tag", tag.Name), zap.Error(err))
			if p.recorder != nil {
				p.recorder.ObservePollFailure(device.ID)
			}
			return
		}

		v, err := codec.Decode(words, tag.DataType)
		if err != nil {
			p.logger.Error("poll decode failed", zap.String("device", device.ID), zap.String("tag", tag.Name), zap.Error(err))
			return
		}

		if err := p.store.SetFromWire(device.ID, tag.Name, v); err != nil {
			p.logger.Error("poll store update failed", zap.String("device", device.ID), zap.String("tag", tag.Name), zap.Error(err))
			continue
		}

		if p.pub != nil {
			p.pub.Republish(device.ID, tag.Name)
		}
	}
}
