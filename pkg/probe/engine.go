/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package probe

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

const (
	// maxRecentGaps bounds the gap history kept for status.
	maxRecentGaps = 32
	eventRingSize = 4096
)

// BitVolts is the size of one ADC step in microvolts at the given gain.
func BitVolts(gain int) float64 {
	if gain <= 0 {
		return 0
	}
	return device.ReferenceVoltage / device.AdcResolution / float64(gain)
}

type Stats struct {
	Samples       uint64 `json:"samples"`
	Packets       uint64 `json:"packets"`
	Gaps          uint64 `json:"gaps"`
	LostSamples   uint64 `json:"lost_samples"`
	Stale         uint64 `json:"stale"`
	Malformed     uint64 `json:"malformed"`
	Timeouts      uint64 `json:"timeouts"`
	Overflows     uint64 `json:"overflows"`
	RecordErrors  uint64 `json:"record_errors"`
	LastTimestamp int64  `json:"last_timestamp"`
	LastEvent     uint16 `json:"last_event"`
}

type EngineOptions struct {
	PullTimeout    time.Duration
	FaultThreshold int
	RingFrames     int
}

// layout is the frame shape fixed at Start: AP values of every channel
// followed by LFP values of every channel.
type layout struct {
	chans    int
	ap       bool
	lfp      bool
	width    int
	apScale  []float32
	lfpScale []float32
	output   []bool
}

// AcquisitionEngine pulls packets from the transport on its own goroutine,
// checks their continuity and publishes scaled frames to the ring.
type AcquisitionEngine struct {
	sh       *Shared
	conn     *ConnectionManager
	channels *ChannelConfigStore
	calib    *CalibrationController
	trigger  *TriggerController
	record   *RecordModeGate
	opts     EngineOptions

	// guarded by sh
	sendAp      bool
	sendLfp     bool
	layout      layout
	stats       Stats
	gaps        []ErrPacketGap
	fault       error
	running     bool
	done        chan struct{}
	baseline    bool
	lastCounter uint32
	lastSamples int
	timestamp   int64
	lastLfp     []float32
	frames      []float32
	stamps      []int64
	// stop belongs to one run; a loop of an earlier run keeps its own
	stop *atomic.Bool

	faulted    atomic.Bool
	ring       atomic.Pointer[Ring]
	events     atomic.Pointer[EventRing]
	gapLimiter *rate.Limiter
}

func NewAcquisitionEngine(sh *Shared, conn *ConnectionManager, channels *ChannelConfigStore,
	calib *CalibrationController, trigger *TriggerController, record *RecordModeGate,
	opts EngineOptions) *AcquisitionEngine {
	if opts.FaultThreshold < 1 {
		opts.FaultThreshold = 1
	}
	e := &AcquisitionEngine{
		sh:         sh,
		conn:       conn,
		channels:   channels,
		calib:      calib,
		trigger:    trigger,
		record:     record,
		opts:       opts,
		sendAp:     true,
		sendLfp:    true,
		stop:       &atomic.Bool{},
		gapLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	conn.AddHook(e.reset)
	return e
}

// reset clears the fault left by a previous link. On close it also ends a
// running acquisition: the pull loop stops and the trigger is disarmed.
func (e *AcquisitionEngine) reset(id *device.Identity) {
	e.fault = nil
	e.faulted.Store(false)
	if id == nil {
		e.stop.Store(true)
		e.stop = &atomic.Bool{}
		e.trigger.disarmLocked()
		e.running = false
	}
}

// Start begins acquisition. In external trigger mode the engine is left
// Armed and streaming begins when the trigger fires.
func (e *AcquisitionEngine) Start() error {
	const op = "start acquisition"
	e.sh.Lock()
	defer e.sh.Unlock()
	if e.sh.identity == nil {
		return ErrNotConnected{Op: op}
	}
	if e.sh.state != Connected {
		return ErrWrongState{Op: op, State: e.sh.state}
	}
	applied := e.channels.appliedLocked()
	if !e.hasOutputsLocked(applied) {
		return ErrNoOutputs{}
	}
	if err := e.channels.reconcileLocked(); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	if e.calib.degradedLocked() {
		log.Warning("Probe is not calibrated, data accuracy is degraded")
	}

	e.buildLayoutLocked(applied)
	e.ring.Store(NewRing(e.opts.RingFrames, e.layout.width))
	e.events.Store(NewEventRing(eventRingSize))
	e.sh.counter = 0
	e.stats = Stats{}
	e.gaps = nil
	e.baseline = false
	e.timestamp = 0

	if err := e.record.armLocked(); err != nil {
		return err
	}
	stop := &atomic.Bool{}
	e.stop = stop
	e.sh.setState(Armed)
	if e.trigger.externalLocked() {
		e.trigger.armLocked(func() { e.onTrigger(stop) })
		log.Info("Acquisition armed, waiting for trigger")
		return nil
	}
	return e.beginLocked()
}

func (e *AcquisitionEngine) hasOutputsLocked(applied *Table) bool {
	if !e.sendAp && !e.sendLfp {
		return false
	}
	for _, ch := range applied.Channels {
		if ch.Output {
			return true
		}
	}
	return false
}

func (e *AcquisitionEngine) buildLayoutLocked(applied *Table) {
	chans := len(applied.Channels)
	l := layout{
		chans:    chans,
		ap:       e.sendAp,
		lfp:      e.sendLfp,
		apScale:  make([]float32, chans),
		lfpScale: make([]float32, chans),
		output:   make([]bool, chans),
	}
	for i, ch := range applied.Channels {
		coef := e.calib.coefficientLocked(i)
		l.apScale[i] = float32(BitVolts(ch.ApGain) * coef.Ap)
		l.lfpScale[i] = float32(BitVolts(ch.LfpGain) * coef.Lfp)
		l.output[i] = ch.Output
	}
	if l.ap {
		l.width += chans
	}
	if l.lfp {
		l.width += chans
	}
	e.layout = l
	e.lastLfp = make([]float32, chans)
}

// beginLocked starts the hardware stream and the pull goroutine.
func (e *AcquisitionEngine) beginLocked() error {
	if err := e.conn.Transport().StartStreaming(); err != nil {
		e.faultLocked(ErrTransportFault{Err: err})
		return fmt.Errorf("start streaming: %w", err)
	}
	e.running = true
	e.done = make(chan struct{})
	e.sh.setState(Acquiring)
	go e.loop(e.stop, e.done)
	log.Info("Acquisition started: %d channels, ap %t lfp %t", e.layout.chans, e.layout.ap, e.layout.lfp)
	return nil
}

// onTrigger is called by the TriggerController once the arm condition holds.
// A trigger of an earlier run carries that run's stop flag and is ignored.
func (e *AcquisitionEngine) onTrigger(stop *atomic.Bool) {
	e.sh.Lock()
	defer e.sh.Unlock()
	if e.sh.state != Armed || e.stop != stop || stop.Load() {
		return
	}
	log.Info("Trigger armed")
	if err := e.beginLocked(); err != nil {
		log.Error("Can not start acquisition on trigger: %s", err)
	}
}

func (e *AcquisitionEngine) loop(stop *atomic.Bool, done chan struct{}) {
	defer close(done)
	transport := e.conn.Transport()
	timeouts := 0
	for !stop.Load() {
		p, err := transport.PullPacket(e.opts.PullTimeout)
		if err != nil {
			if errors.Is(err, ifc.ErrPullTimeout) {
				timeouts++
				e.sh.Lock()
				if e.stop == stop {
					e.stats.Timeouts++
				}
				e.sh.Unlock()
				if timeouts < e.opts.FaultThreshold {
					continue
				}
				e.fail(stop, ErrTransportFault{Timeouts: timeouts})
				return
			}
			e.fail(stop, ErrTransportFault{Err: err})
			return
		}
		timeouts = 0
		e.sh.Lock()
		// the link may have been closed while pulling
		if e.stop == stop {
			e.acceptLocked(p)
		}
		e.sh.Unlock()
	}
}

// fail enters Fault unless the run was already stopped or its link closed.
func (e *AcquisitionEngine) fail(stop *atomic.Bool, err error) {
	e.sh.Lock()
	defer e.sh.Unlock()
	if stop.Load() {
		log.Warning("Transport error after stop: %s", err)
		return
	}
	e.faultLocked(err)
}

func (e *AcquisitionEngine) faultLocked(err error) {
	log.Error("Acquisition fault: %s", err)
	e.fault = err
	e.faulted.Store(true)
	e.sh.setState(Fault)
}

// acceptLocked checks the packet against the previous one and publishes it.
// Counters are compared modulo 2^32; a forward jump larger than the previous
// packet's sample count is a gap, anything not moving forward is stale.
func (e *AcquisitionEngine) acceptLocked(p *device.Packet) {
	if !p.Valid() || p.Chans != e.layout.chans {
		e.stats.Malformed++
		log.Debug("Malformed packet dropped: counter %d chans %d", p.Counter, p.Chans)
		return
	}
	if e.baseline {
		delta := p.Counter - e.lastCounter
		expected := uint32(e.lastSamples)
		switch {
		case delta == expected:
		case delta == 0 || delta >= 1<<31 || delta < expected:
			e.stats.Stale++
			log.Debug("Stale packet dropped: counter %d after %d", p.Counter, e.lastCounter)
			return
		default:
			gap := ErrPacketGap{Expected: e.lastCounter + expected, Got: p.Counter, Lost: delta - expected}
			e.recordGapLocked(gap)
			e.lastCounter = p.Counter
			e.lastSamples = p.Samples
			e.timestamp += int64(delta)
			return
		}
		e.timestamp += int64(delta)
	} else {
		e.baseline = true
		e.timestamp = int64(p.Counter)
	}
	e.lastCounter = p.Counter
	e.lastSamples = p.Samples

	e.publishLocked(p)
	e.sh.counter += uint64(p.Samples)
	if ev := e.events.Load(); ev != nil {
		ev.Write(Event{Timestamp: e.timestamp, Word: p.Event})
	}
	e.record.writeLocked(p, &e.stats)
	e.stats.Packets++
	e.stats.Samples = e.sh.counter
	e.stats.LastTimestamp = e.timestamp
	e.stats.LastEvent = p.Event
}

func (e *AcquisitionEngine) recordGapLocked(gap ErrPacketGap) {
	e.stats.Gaps++
	e.stats.LostSamples += uint64(gap.Lost)
	e.gaps = append(e.gaps, gap)
	if len(e.gaps) > maxRecentGaps {
		e.gaps = e.gaps[len(e.gaps)-maxRecentGaps:]
	}
	if e.gapLimiter.Allow() {
		log.Warning("%s", gap)
	}
}

// publishLocked demultiplexes the packet into frames. Bands switched off
// since Start are written as zeros so the frame shape stays fixed. A full
// ring drops the whole packet and counts an overflow; the packet still
// counts as emitted.
func (e *AcquisitionEngine) publishLocked(p *device.Packet) {
	ring := e.ring.Load()
	if ring == nil {
		return
	}
	l := &e.layout
	n := p.Samples * l.width
	if cap(e.frames) < n {
		e.frames = make([]float32, n)
	}
	if cap(e.stamps) < p.Samples {
		e.stamps = make([]int64, p.Samples)
	}
	frames := e.frames[:n]
	stamps := e.stamps[:p.Samples]
	sendAp := e.sendAp && l.ap
	sendLfp := e.sendLfp && l.lfp

	for s := 0; s < p.Samples; s++ {
		row := frames[s*l.width : (s+1)*l.width]
		off := 0
		if l.ap {
			for ch := 0; ch < l.chans; ch++ {
				v := float32(0)
				if sendAp && l.output[ch] {
					v = float32(p.ApSample(s, ch)) * l.apScale[ch]
				}
				row[off+ch] = v
			}
			off += l.chans
		}
		if l.lfp {
			if p.LfpSamples > 0 {
				ls := s * p.LfpSamples / p.Samples
				for ch := 0; ch < l.chans; ch++ {
					e.lastLfp[ch] = float32(p.LfpSample(ls, ch)) * l.lfpScale[ch]
				}
			}
			for ch := 0; ch < l.chans; ch++ {
				v := float32(0)
				if sendLfp && l.output[ch] {
					v = e.lastLfp[ch]
				}
				row[off+ch] = v
			}
		}
		stamps[s] = e.timestamp + int64(s)
	}
	if !ring.Write(frames, stamps, p.Samples) {
		e.stats.Overflows++
		if e.gapLimiter.Allow() {
			log.Warning("Ring buffer full, %d samples dropped", p.Samples)
		}
	}
}

// Stop ends acquisition. The packet being pulled when Stop is called is
// either fully published or not at all.
func (e *AcquisitionEngine) Stop() error {
	const op = "stop acquisition"
	e.sh.Lock()
	switch e.sh.state {
	case Disconnected:
		e.sh.Unlock()
		return ErrNotConnected{Op: op}
	case Connected, Configuring:
		e.sh.Unlock()
		return nil
	case Armed:
		defer e.sh.Unlock()
		e.stop.Store(true)
		e.trigger.disarmLocked()
		e.record.disarmLocked()
		e.sh.setState(Connected)
		log.Info("Acquisition disarmed")
		return e.channels.reconcileLocked()
	case Fault:
		defer e.sh.Unlock()
		e.teardownLocked()
		return nil
	case Stopping:
		e.sh.Unlock()
		return ErrWrongState{Op: op, State: Stopping}
	}

	e.sh.setState(Stopping)
	stop := e.stop
	stop.Store(true)
	done := e.done
	e.sh.Unlock()

	<-done

	e.sh.Lock()
	defer e.sh.Unlock()
	if e.stop != stop {
		// closed while stopping; the close hook already tore the run down
		return nil
	}
	if e.sh.state == Fault {
		e.teardownLocked()
		return nil
	}
	if err := e.conn.Transport().StopStreaming(); err != nil {
		log.Warning("Error while stopping stream: %s", err)
	}
	e.record.disarmLocked()
	e.trigger.disarmLocked()
	e.running = false
	log.Info("Acquisition stopped: %d samples in %d packets, %d gaps, %d stale",
		e.sh.counter, e.stats.Packets, e.stats.Gaps, e.stats.Stale)
	err := e.channels.reconcileLocked()
	e.sh.setState(Connected)
	return err
}

// teardownLocked releases what a faulted acquisition left open. The engine
// stays in Fault until the link is reopened.
func (e *AcquisitionEngine) teardownLocked() {
	e.trigger.disarmLocked()
	if e.running {
		if err := e.conn.Transport().StopStreaming(); err != nil {
			log.Debug("Error while stopping stream after fault: %s", err)
		}
		e.running = false
	}
	e.record.disarmLocked()
}

// UpdateBuffer reports whether the source is still producing data. It never
// blocks; the ring is filled by the pull goroutine.
func (e *AcquisitionEngine) UpdateBuffer() bool {
	return !e.faulted.Load()
}

func (e *AcquisitionEngine) ToggleApData(send bool) {
	e.sh.Lock()
	defer e.sh.Unlock()
	e.sendAp = send
	e.warnLayoutLocked("AP", send, e.layout.ap)
}

func (e *AcquisitionEngine) ToggleLfpData(send bool) {
	e.sh.Lock()
	defer e.sh.Unlock()
	e.sendLfp = send
	e.warnLayoutLocked("LFP", send, e.layout.lfp)
}

func (e *AcquisitionEngine) warnLayoutLocked(band string, send, inLayout bool) {
	running := e.sh.state == Acquiring || e.sh.state == Armed
	if running && send && !inLayout {
		log.Warning("%s stream is not part of the running acquisition, it is sent from the next start", band)
	}
}

func (e *AcquisitionEngine) Bands() (ap, lfp bool) {
	e.sh.Lock()
	defer e.sh.Unlock()
	return e.sendAp, e.sendLfp
}

func (e *AcquisitionEngine) SampleCounter() uint64 {
	e.sh.Lock()
	defer e.sh.Unlock()
	return e.sh.counter
}

func (e *AcquisitionEngine) Stats() Stats {
	e.sh.Lock()
	defer e.sh.Unlock()
	return e.stats
}

// RecentGaps returns up to the last 32 gaps of the current acquisition.
func (e *AcquisitionEngine) RecentGaps() []ErrPacketGap {
	e.sh.Lock()
	defer e.sh.Unlock()
	return append([]ErrPacketGap(nil), e.gaps...)
}

// Fault returns the error that put the engine into Fault, if any.
func (e *AcquisitionEngine) Fault() error {
	e.sh.Lock()
	defer e.sh.Unlock()
	return e.fault
}

// Buffer returns the consumer side of the current acquisition.
func (e *AcquisitionEngine) Buffer() (*Ring, *EventRing) {
	return e.ring.Load(), e.events.Load()
}
