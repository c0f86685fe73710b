package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/notify"
	"github.com/banshee-data/densecloud/internal/timeutil"
)

// Config holds publisher tuning.
type Config struct {
	// QueueSize is the depth of the broadcast queue (default: 100).
	QueueSize int
	// ClientBuffer is the per-subscriber frame buffer (default: 10).
	ClientBuffer int
	// StatsInterval is how often throughput is logged (default: 5s).
	StatsInterval time.Duration
	// Clock stamps frames; nil uses the wall clock.
	Clock timeutil.Clock
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:     100,
		ClientBuffer:  10,
		StatsInterval: 5 * time.Second,
	}
}

// Publisher turns buffer deltas into DeltaFrames and fans them out to
// subscribers. Slow subscribers lose frames rather than stall the writer.
type Publisher struct {
	config Config
	clock  timeutil.Clock

	frameChan chan *DeltaFrame
	clients   map[uint64]*Subscription
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	registryMu sync.RWMutex
	registry   *cloud.Registry
	watchMu    sync.Mutex
	watched    map[uuid.UUID]func()

	seq            atomic.Uint64
	frameCount     atomic.Uint64
	droppedFrames  atomic.Uint64
	clientCount    atomic.Int32
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Subscription is one subscriber's frame feed.
type Subscription struct {
	id      uint64
	filter  uuid.UUID
	frameCh chan *DeltaFrame
	doneCh  chan struct{}
	pub     *Publisher
}

// NewPublisher returns a stopped publisher.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Publisher{
		config:    cfg,
		clock:     clock,
		frameChan: make(chan *DeltaFrame, cfg.QueueSize),
		clients:   make(map[uint64]*Subscription),
		watched:   make(map[uuid.UUID]func()),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	p.wg.Add(1)
	go p.broadcastLoop()
	diagf("publisher started: queue=%d client_buffer=%d", p.config.QueueSize, p.config.ClientBuffer)
	return nil
}

// Stop ends the broadcast loop and closes every subscription. A stopped
// publisher cannot be restarted.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	p.clientCount.Store(0)

	p.watchMu.Lock()
	for id, unsub := range p.watched {
		unsub()
		delete(p.watched, id)
	}
	p.watchMu.Unlock()
	diagf("publisher stopped: frames=%d dropped=%d", p.frameCount.Load(), p.droppedFrames.Load())
}

// Watch publishes deltas from every cloud in reg, following additions and
// removals announced by n. The returned function stops following n.
func (p *Publisher) Watch(reg *cloud.Registry, n *notify.Notifier) (unwatch func()) {
	p.registryMu.Lock()
	p.registry = reg
	p.registryMu.Unlock()

	for _, buf := range reg.All() {
		p.watchCloud(buf)
	}
	return n.Subscribe(func(cs notify.ChangeSet) {
		for _, id := range cs.Added {
			if buf, ok := reg.Get(id); ok {
				p.watchCloud(buf)
			}
		}
		for _, id := range cs.Removed {
			p.unwatchCloud(id)
		}
	})
}

func (p *Publisher) watchCloud(buf *cloud.PointBuffer) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if _, ok := p.watched[buf.ID()]; ok {
		return
	}
	p.watched[buf.ID()] = buf.Subscribe(func(d cloud.Delta) { p.onDelta(buf, d) })
	diagf("watching cloud %s", buf.ID())
}

func (p *Publisher) unwatchCloud(id uuid.UUID) {
	p.watchMu.Lock()
	unsub, ok := p.watched[id]
	delete(p.watched, id)
	p.watchMu.Unlock()
	if !ok {
		return
	}
	unsub()
	p.Publish(&DeltaFrame{Kind: KindRemoved, CloudID: id})
}

// onDelta runs on the buffer writer's goroutine.
func (p *Publisher) onDelta(buf *cloud.PointBuffer, d cloud.Delta) {
	switch {
	case d.Start == 0 && d.Empty():
		p.Publish(&DeltaFrame{Kind: KindReset, CloudID: d.CloudID, Capacity: uint32(buf.Capacity())})
	case d.Empty():
		// Nothing was appended.
	default:
		s := buf.Snapshot(d.Start, d.End())
		p.Publish(frameFromSlice(KindDelta, d.CloudID, buf.Capacity(), s))
	}
}

// Publish queues f for every matching subscriber. It never blocks; when
// the queue is full the frame is dropped.
func (p *Publisher) Publish(f *DeltaFrame) {
	if f == nil || !p.running.Load() {
		return
	}
	p.stamp(f)

	queueDepth := len(p.frameChan)
	select {
	case p.frameChan <- f:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count, f.Len(), queueDepth)
	default:
		dropped := p.droppedFrames.Add(1)
		opsf("dropped frame %d (total dropped: %d), queue full, points=%d", f.Seq, dropped, f.Len())
	}
}

func (p *Publisher) stamp(f *DeltaFrame) {
	f.Seq = p.seq.Add(1)
	if f.TimestampNanos == 0 {
		f.TimestampNanos = p.clock.Now().UnixNano()
	}
}

// logPeriodicStats logs throughput once per stats interval.
func (p *Publisher) logPeriodicStats(frameCount uint64, points, queueDepth int) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := p.clock.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}
	elapsed := now.Sub(p.lastStatsTime)
	if elapsed < p.config.StatsInterval {
		tracef("frame %d queued: points=%d queue=%d", frameCount, points, queueDepth)
		return
	}
	framesInInterval := frameCount - p.lastFrameCount
	diagf("stats: fps=%.1f frames=%d dropped=%d clients=%d queue=%d/%d",
		float64(framesInInterval)/elapsed.Seconds(), framesInInterval,
		p.droppedFrames.Load(), p.clientCount.Load(), queueDepth, p.config.QueueSize)
	p.lastStatsTime = now
	p.lastFrameCount = frameCount
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if !c.matches(f) {
					continue
				}
				select {
				case c.frameCh <- f:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe registers a subscriber for frames of the cloud with the given
// id, or of every cloud when filter is uuid.Nil. The feed opens with one
// snapshot frame per matching cloud.
func (p *Publisher) Subscribe(filter uuid.UUID) *Subscription {
	s := &Subscription{
		id:     p.nextID.Add(1),
		filter: filter,
		// Room for the opening snapshots on top of the live buffer.
		frameCh: make(chan *DeltaFrame, p.config.ClientBuffer+p.registryLen()),
		doneCh:  make(chan struct{}),
		pub:     p,
	}

	p.clientsMu.Lock()
	p.clients[s.id] = s
	p.clientsMu.Unlock()
	total := p.clientCount.Add(1)
	diagf("client %d connected (total: %d)", s.id, total)

	for _, buf := range p.snapshotSources(filter) {
		f := frameFromSlice(KindSnapshot, buf.ID(), buf.Capacity(), buf.Snapshot(0, buf.Count()))
		p.stamp(f)
		select {
		case s.frameCh <- f:
		default:
			p.droppedFrames.Add(1)
		}
	}
	return s
}

func (p *Publisher) registryLen() int {
	p.registryMu.RLock()
	defer p.registryMu.RUnlock()
	if p.registry == nil {
		return 0
	}
	return p.registry.Len()
}

func (p *Publisher) snapshotSources(filter uuid.UUID) []*cloud.PointBuffer {
	p.registryMu.RLock()
	reg := p.registry
	p.registryMu.RUnlock()
	if reg == nil {
		return nil
	}
	if filter != uuid.Nil {
		if buf, ok := reg.Get(filter); ok {
			return []*cloud.PointBuffer{buf}
		}
		return nil
	}
	return reg.All()
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	c, ok := p.clients[id]
	if ok {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if ok {
		remaining := p.clientCount.Add(-1)
		diagf("client %d disconnected (remaining: %d)", id, remaining)
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.watchMu.Lock()
	watched := len(p.watched)
	p.watchMu.Unlock()
	return PublisherStats{
		FrameCount:  p.frameCount.Load(),
		Dropped:     p.droppedFrames.Load(),
		ClientCount: p.clientCount.Load(),
		Watched:     watched,
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount  uint64 `json:"frame_count"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"client_count"`
	Watched     int    `json:"watched_clouds"`
	Running     bool   `json:"running"`
}

func (s *Subscription) matches(f *DeltaFrame) bool {
	return s.filter == uuid.Nil || s.filter == f.CloudID
}

// Frames returns the frame feed.
func (s *Subscription) Frames() <-chan *DeltaFrame { return s.frameCh }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.doneCh }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.pub.removeClient(s.id) }
