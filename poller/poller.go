// Package poller runs the periodic speed test trigger and status poll
// loops and caches the latest snapshot for the metrics collector.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/unifi-dashboard/exporter/controller"
)

const (
	// rejectionSkipThreshold is when the poller stops even attempting
	// cycles. It is deliberately higher than the request engine's own
	// retry budget so the engine gets to recover first.
	rejectionSkipThreshold = 3

	// Every probeInterval-th penalized cycle still runs, so a backend
	// that has recovered can clear the rejection counter.
	probeInterval = 3

	// initialTriggerDelay lets the controller settle after startup
	// before the first automatic speed test.
	initialTriggerDelay = time.Minute
)

// StatusClient is the controller surface the poller drives.
type StatusClient interface {
	GetSpeedTestStatus() controller.StatusSnapshot
	StartSpeedTest() error
	HealthStatus() controller.HealthStatus
	Type() controller.ControllerType
}

// Recorder receives attempt/outcome pairs for every triggered test.
type Recorder interface {
	RecordAttempt(automated bool)
	RecordSuccess(automated bool)
	RecordFailure(automated bool, reason string)
	Save() error
}

// Poller owns the trigger and poll loops. Automatic triggering only
// runs against the classic dialect; appliance controllers schedule
// their own tests.
type Poller struct {
	client           StatusClient
	tracker          Recorder
	scheduleInterval time.Duration
	pollInterval     time.Duration
	autoTrigger      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	last         controller.StatusSnapshot
	lastPoll     time.Time
	skippedCount int
}

// New creates a poller over the given client and tracker.
func New(client StatusClient, tracker Recorder, scheduleInterval, pollInterval time.Duration) *Poller {
	return &Poller{
		client:           client,
		tracker:          tracker,
		scheduleInterval: scheduleInterval,
		pollInterval:     pollInterval,
		autoTrigger:      client.Type() == controller.TypeClassic,
	}
}

// Start launches the loops in the background.
func (p *Poller) Start() error {
	if p.cancel != nil {
		return fmt.Errorf("poller already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.pollLoop(ctx)

	if p.autoTrigger {
		p.wg.Add(1)
		go p.triggerLoop(ctx)
	} else {
		log.Printf("Appliance controller detected, automatic speed test triggering disabled (the controller schedules its own)")
	}
	return nil
}

// Stop cancels the loops and waits for them to finish the current
// cycle. Cancellation only takes effect between cycles.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
}

// Snapshot returns the most recent poll result and when it was taken.
func (p *Poller) Snapshot() (controller.StatusSnapshot, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.lastPoll
}

// TriggerNow runs a manual speed test immediately, bypassing the
// schedule but not the circuit breaker.
func (p *Poller) TriggerNow() error {
	return p.trigger(false)
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	p.poll()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) triggerLoop(ctx context.Context) {
	defer p.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(initialTriggerDelay):
		if err := p.trigger(true); err != nil {
			log.Printf("Initial speed test failed: %v", err)
		}
	}

	ticker := time.NewTicker(p.scheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.trigger(true); err != nil {
				log.Printf("Scheduled speed test failed: %v", err)
			}
		}
	}
}

func (p *Poller) poll() {
	if p.skip("status poll") {
		return
	}
	snap := p.client.GetSpeedTestStatus()

	p.mu.Lock()
	p.last = snap
	p.lastPoll = time.Now()
	p.mu.Unlock()
}

func (p *Poller) trigger(automated bool) error {
	if p.skip("speed test trigger") {
		return fmt.Errorf("skipped: connection health below threshold")
	}

	p.tracker.RecordAttempt(automated)
	err := p.client.StartSpeedTest()
	if err != nil {
		p.tracker.RecordFailure(automated, err.Error())
	} else {
		p.tracker.RecordSuccess(automated)
	}
	if saveErr := p.tracker.Save(); saveErr != nil {
		log.Printf("Failed to persist tracker state: %v", saveErr)
	}
	return err
}

// skip consults the client's health snapshot before a cycle so an
// already-penalized session is not penalized further. Every few
// penalized cycles one probe is let through to give the rejection
// counter a chance to clear.
func (p *Poller) skip(op string) bool {
	hs := p.client.HealthStatus()
	if !hs.CanAttemptConnection {
		log.Printf("Skipping %s, login cooldown active for another %s", op, hs.CooldownRemaining.Round(time.Second))
		return true
	}
	if hs.ConsecutiveRejections >= rejectionSkipThreshold {
		p.mu.Lock()
		p.skippedCount++
		probe := p.skippedCount%probeInterval == 0
		p.mu.Unlock()
		if !probe {
			log.Printf("Skipping %s after %d consecutive rejections", op, hs.ConsecutiveRejections)
			return true
		}
		log.Printf("Probing despite %d consecutive rejections", hs.ConsecutiveRejections)
	}
	return false
}
