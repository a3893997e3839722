package workers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/network"
	"github.com/cbodonnell/tether/pkg/packet"
)

const (
	// LatencySamples is how many round trips are kept per connection.
	LatencySamples = 10
	// outlierFactor drops samples more than this many times the median.
	outlierFactor = 2.0
	// pingExpiry forgets pings that were never answered.
	pingExpiry = 5 * time.Second
)

// ReachableConnections lists connections that can receive datagrams.
// *network.ConnectionManager implements it.
type ReachableConnections interface {
	Reachable() []uint32
}

type connectionLatency struct {
	pending map[uint32]time.Time
	samples []time.Duration
	rtt     time.Duration
	ready   bool
}

// LatencyProbeWorker periodically pings every reachable connection and keeps
// an outlier-filtered mean round trip time for each. Pongs are delivered by
// the network manager through RecordPong; the tick loop reads RTT.
type LatencyProbeWorker struct {
	transport   network.Transport
	connections ReachableConnections
	assembler   *packet.Assembler
	interval    time.Duration

	lock     sync.Mutex
	sequence uint32
	latency  map[uint32]*connectionLatency
}

type NewLatencyProbeWorkerOptions struct {
	Transport   network.Transport
	Connections ReachableConnections
	Assembler   *packet.Assembler
	Interval    time.Duration
}

func NewLatencyProbeWorker(opts NewLatencyProbeWorkerOptions) *LatencyProbeWorker {
	return &LatencyProbeWorker{
		transport:   opts.Transport,
		connections: opts.Connections,
		assembler:   opts.Assembler,
		interval:    opts.Interval,
		latency:     make(map[uint32]*connectionLatency),
	}
}

func (w *LatencyProbeWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.probe(now)
		}
	}
}

// probe sends one ping to every reachable connection and forgets the state
// of connections that went away.
func (w *LatencyProbeWorker) probe(now time.Time) {
	reachable := w.connections.Reachable()

	w.lock.Lock()
	alive := make(map[uint32]bool, len(reachable))
	pings := make(map[uint32]uint32, len(reachable))
	for _, id := range reachable {
		alive[id] = true
		l, ok := w.latency[id]
		if !ok {
			l = &connectionLatency{pending: make(map[uint32]time.Time)}
			w.latency[id] = l
		}
		for seq, sentAt := range l.pending {
			if now.Sub(sentAt) > pingExpiry {
				delete(l.pending, seq)
			}
		}
		w.sequence++
		l.pending[w.sequence] = now
		pings[id] = w.sequence
	}
	for id := range w.latency {
		if !alive[id] {
			delete(w.latency, id)
		}
	}
	w.lock.Unlock()

	for id, seq := range pings {
		seg := bitstream.NewWriter()
		messages.WritePing(seg, messages.Ping{Sequence: seq})
		b := w.assembler.Begin(messages.ServerPing)
		b.TryAppend(seg)
		if err := w.transport.SendUnreliable(id, b.Finish()); err != nil {
			log.Debug("Failed to ping connection %d: %v", id, err)
		}
	}
}

// RecordPong matches a pong with its ping. It has the signature of
// network.PongHandler.
func (w *LatencyProbeWorker) RecordPong(connectionID uint32, sequence uint32, receivedAt time.Time) {
	w.lock.Lock()
	defer w.lock.Unlock()

	l, ok := w.latency[connectionID]
	if !ok {
		return
	}
	sentAt, ok := l.pending[sequence]
	if !ok {
		log.Trace("Unexpected pong %d from connection %d", sequence, connectionID)
		return
	}
	delete(l.pending, sequence)

	l.samples = append(l.samples, receivedAt.Sub(sentAt))
	if len(l.samples) > LatencySamples {
		l.samples = l.samples[len(l.samples)-LatencySamples:]
	}
	l.rtt = filteredMean(l.samples)
	l.ready = true
}

// RTT returns the latest round trip estimate for a connection.
func (w *LatencyProbeWorker) RTT(connectionID uint32) (time.Duration, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	l, ok := w.latency[connectionID]
	if !ok || !l.ready {
		return 0, false
	}
	return l.rtt, true
}

// filteredMean averages the samples that are not far above the median.
func filteredMean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	limit := time.Duration(float64(median) * outlierFactor)

	var sum time.Duration
	var n int
	for _, s := range sorted {
		if s > limit {
			break
		}
		sum += s
		n++
	}
	return sum / time.Duration(n)
}
