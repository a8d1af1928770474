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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"jinr.ru/greenlab/go-npx/pkg/device/sim"
)

func counters(n int, step uint32) []uint32 {
	c := make([]uint32, n)
	for i := range c {
		c[i] = uint32(i) * step
	}
	return c
}

func TestContinuousPackets(t *testing.T) {
	src, dev := newTestSource(t, 384)
	if err := src.Channels.SetAllApGains(500, true); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.Feed(testPackets(384, counters(10, testSamples)...)...)
	waitFor(t, "10 packets", func() bool { return src.Engine.Stats().Packets == 10 })

	ring, _ := src.Buffer()
	frames := 0
	for i := 0; i < 10; i++ {
		if !src.UpdateBuffer() {
			t.Fatal("UpdateBuffer reports no data")
		}
		frames += drain(ring)
	}
	if frames != 300 {
		t.Errorf("published frames: got %d, want 300", frames)
	}
	stats := src.Engine.Stats()
	if stats.Samples != 300 || stats.Gaps != 0 {
		t.Errorf("stats: %+v", stats)
	}
	if got := src.Engine.SampleCounter(); got != 300 {
		t.Errorf("sample counter: got %d, want 300", got)
	}
}

func TestPacketGapIsSkipped(t *testing.T) {
	src, dev := newTestSource(t, 384)
	if err := src.Channels.SetAllApGains(500, true); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	// the fifth packet jumps by 60
	dev.Feed(testPackets(384, 0, 30, 60, 90, 150, 180, 210, 240, 270, 300)...)
	waitFor(t, "9 packets", func() bool { return src.Engine.Stats().Packets == 9 })

	ring, _ := src.Buffer()
	if got := drain(ring); got != 270 {
		t.Errorf("published frames: got %d, want 270", got)
	}
	stats := src.Engine.Stats()
	if stats.Gaps != 1 || stats.LostSamples != 30 || stats.Samples != 270 {
		t.Errorf("stats: %+v", stats)
	}
	want := []ErrPacketGap{{Expected: 120, Got: 150, Lost: 30}}
	if diff := cmp.Diff(want, src.Engine.RecentGaps()); diff != "" {
		t.Errorf("gaps mismatch (-want +got):\n%s", diff)
	}
	if state := src.sh.State(); state != Acquiring {
		t.Errorf("state after gap: %s", state)
	}
}

func TestStalePacketsAreDropped(t *testing.T) {
	src, dev := newTestSource(t, 4)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.Feed(testPackets(4, 0, 30, 30, 10, 60)...)
	waitFor(t, "3 packets", func() bool { return src.Engine.Stats().Packets == 3 })
	waitFor(t, "2 stale packets", func() bool { return src.Engine.Stats().Stale == 2 })

	stats := src.Engine.Stats()
	if stats.Samples != 90 || stats.Gaps != 0 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestCounterWrapsAround(t *testing.T) {
	src, dev := newTestSource(t, 4)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	start := uint32(1<<32 - 2*testSamples)
	dev.Feed(testPackets(4, start, start+testSamples, 0, testSamples)...)
	waitFor(t, "4 packets", func() bool { return src.Engine.Stats().Packets == 4 })

	stats := src.Engine.Stats()
	if stats.Gaps != 0 || stats.Stale != 0 {
		t.Errorf("stats: %+v", stats)
	}
	if want := int64(1<<32 + testSamples); stats.LastTimestamp != want {
		t.Errorf("last timestamp: got %d, want %d", stats.LastTimestamp, want)
	}
}

func TestMalformedPacketsAreCounted(t *testing.T) {
	src, dev := newTestSource(t, 4)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	short := testPacket(0, 4, 1, 1)
	short.Ap = short.Ap[:10]
	dev.Feed(short, testPacket(0, 8, 1, 1), testPacket(0, 4, 1, 1))
	waitFor(t, "packet", func() bool { return src.Engine.Stats().Packets == 1 })
	if got := src.Engine.Stats().Malformed; got != 2 {
		t.Errorf("malformed: got %d, want 2", got)
	}
}

func TestEventsCarryCounter(t *testing.T) {
	src, dev := newTestSource(t, 4)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	packets := testPackets(4, 100, 130)
	packets[0].Event = 0x1
	packets[1].Event = 0x3
	dev.Feed(packets...)
	waitFor(t, "2 packets", func() bool { return src.Engine.Stats().Packets == 2 })

	_, events := src.Buffer()
	got := make([]Event, 8)
	n := events.Read(got)
	want := []Event{{Timestamp: 100, Word: 0x1}, {Timestamp: 130, Word: 0x3}}
	if diff := cmp.Diff(want, got[:n]); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRepeatedTimeoutsFault(t *testing.T) {
	dev := sim.New(testSimConfig(4))
	opts := testOptions(t)
	opts.PullTimeout = 5 * time.Millisecond
	opts.FaultThreshold = 3
	src := NewSource(dev, opts)
	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	waitState(t, src, Fault)

	if src.UpdateBuffer() {
		t.Error("UpdateBuffer must report false after a fault")
	}
	if src.FoundInputSource() {
		t.Error("FoundInputSource must report false after a fault")
	}
	var fault ErrTransportFault
	if !errors.As(src.Engine.Fault(), &fault) || fault.Timeouts != 3 {
		t.Errorf("fault: %v", src.Engine.Fault())
	}
	if err := src.StopAcquisition(); err != nil {
		t.Errorf("stop after fault: %s", err)
	}
	if state := src.sh.State(); state != Fault {
		t.Errorf("state after stop: %s, want fault", state)
	}
	if dev.Streaming() {
		t.Error("stream left running after fault")
	}

	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !src.UpdateBuffer() || !src.FoundInputSource() {
		t.Error("reopen must clear the fault")
	}
}

func TestTransportErrorFaults(t *testing.T) {
	src, dev := newTestSource(t, 4)
	boom := errors.New("link lost")
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.FailPull(boom)
	waitState(t, src, Fault)
	if !errors.Is(src.Engine.Fault(), boom) {
		t.Errorf("fault: %v", src.Engine.Fault())
	}
	var wrongState ErrWrongState
	if err := src.StartAcquisition(); !errors.As(err, &wrongState) {
		t.Errorf("start in fault: got %v, want ErrWrongState", err)
	}
}

func TestStreamStartFailureFaults(t *testing.T) {
	src, dev := newTestSource(t, 4)
	dev.FailStreaming(errors.New("no stream"))
	if err := src.StartAcquisition(); err == nil {
		t.Fatal("start must fail")
	}
	if state := src.sh.State(); state != Fault {
		t.Errorf("state: %s, want fault", state)
	}
}

func TestStopDuringPull(t *testing.T) {
	src, dev := newTestSource(t, 4)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			dev.Feed(testPacket(uint32(i*testSamples), 4, 1, 1))
			time.Sleep(100 * time.Microsecond)
		}
	}()
	waitFor(t, "some packets", func() bool { return src.Engine.Stats().Packets >= 5 })
	if err := src.StopAcquisition(); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	ring, _ := src.Buffer()
	counter := src.Engine.SampleCounter()
	if counter%testSamples != 0 {
		t.Errorf("sample counter %d is not a whole number of packets", counter)
	}
	dropped := src.Engine.Stats().Overflows * testSamples
	if frames := drain(ring); uint64(frames)+dropped != counter {
		t.Errorf("ring holds %d frames and %d were dropped, counter is %d", frames, dropped, counter)
	}
	if state := src.sh.State(); state != Connected {
		t.Errorf("state after stop: %s", state)
	}
	if dev.Streaming() {
		t.Error("stream still running")
	}
}

func TestStartRequiresConnectedState(t *testing.T) {
	dev := sim.New(testSimConfig(4))
	src := NewSource(dev, testOptions(t))

	var notConnected ErrNotConnected
	if err := src.StartAcquisition(); !errors.As(err, &notConnected) {
		t.Errorf("start while disconnected: got %v", err)
	}
	if err := src.StopAcquisition(); !errors.As(err, &notConnected) {
		t.Errorf("stop while disconnected: got %v", err)
	}

	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if err := src.StopAcquisition(); err != nil {
		t.Errorf("stop while connected: %s", err)
	}
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	var wrongState ErrWrongState
	if err := src.StartAcquisition(); !errors.As(err, &wrongState) || wrongState.State != Acquiring {
		t.Errorf("second start: got %v", err)
	}
}

func TestStartNeedsOutputs(t *testing.T) {
	tests := []struct {
		name  string
		setup func(src *Source)
	}{
		{
			name: "both bands off",
			setup: func(src *Source) {
				src.ToggleApData(false)
				src.ToggleLfpData(false)
			},
		},
		{
			name: "all channels off",
			setup: func(src *Source) {
				for ch := 0; ch < 4; ch++ {
					src.Channels.SetOutput(ch, false)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dev := newTestSource(t, 4)
			tt.setup(src)
			if err := src.StartAcquisition(); !errors.Is(err, ErrNoOutputs{}) {
				t.Errorf("got %v, want ErrNoOutputs", err)
			}
			if dev.Streaming() {
				t.Error("stream started without outputs")
			}
		})
	}
}

func TestDisabledBandIsZeroFilled(t *testing.T) {
	src, dev := newTestSource(t, 2)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	src.ToggleLfpData(false)
	dev.Feed(testPacket(0, 2, 10, 4))
	waitFor(t, "packet", func() bool { return src.Engine.Stats().Packets == 1 })

	ring, _ := src.Buffer()
	if ring.Width() != 4 {
		t.Fatalf("width changed during acquisition: %d", ring.Width())
	}
	data := make([]float32, ring.Width())
	stamps := make([]int64, 1)
	ring.Read(data, stamps)
	want := []float32{23.4375, 23.4375, 0, 0}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestBitVoltsFollowAppliedGain(t *testing.T) {
	src, _ := newTestSource(t, 4)
	bv, err := src.BitVolts(0)
	if err != nil {
		t.Fatal(err)
	}
	if bv != 2.34375 {
		t.Errorf("default AP bit volts: got %g", bv)
	}

	if err := src.Channels.SetGain(0, 1000, 250, false); err != nil {
		t.Fatal(err)
	}
	if bv, _ := src.BitVolts(0); bv != 2.34375 {
		t.Errorf("staged gain changed bit volts: got %g", bv)
	}
	if err := src.Channels.Reconcile(); err != nil {
		t.Fatal(err)
	}
	if bv, _ := src.BitVolts(0); bv != 1.171875 {
		t.Errorf("AP bit volts after reconcile: got %g, want 1.171875", bv)
	}
	// LFP channels follow the AP ones
	if bv, _ := src.BitVolts(4); bv != 4.6875 {
		t.Errorf("LFP bit volts: got %g, want 4.6875", bv)
	}
	if _, err := src.BitVolts(1000); !errors.As(err, new(ErrOutOfRange)) {
		t.Errorf("out of range index: got %v", err)
	}
}

func TestCounterAdvancesWhenRingIsFull(t *testing.T) {
	dev := sim.New(testSimConfig(4))
	opts := testOptions(t)
	opts.RingFrames = 2 * testSamples
	src := NewSource(dev, opts)
	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.Feed(testPackets(4, counters(5, testSamples)...)...)
	waitFor(t, "5 packets", func() bool { return src.Engine.Stats().Packets == 5 })

	stats := src.Engine.Stats()
	if counter := src.Engine.SampleCounter(); counter != 5*testSamples {
		t.Errorf("sample counter %d, want %d", counter, 5*testSamples)
	}
	if stats.Samples != 5*testSamples || stats.Overflows != 3 || stats.Gaps != 0 {
		t.Errorf("samples %d overflows %d gaps %d, want 150 3 0", stats.Samples, stats.Overflows, stats.Gaps)
	}
	ring, _ := src.Buffer()
	if frames := drain(ring); frames != 2*testSamples {
		t.Errorf("ring holds %d frames, want %d", frames, 2*testSamples)
	}
}

func TestCloseDuringAcquisition(t *testing.T) {
	dev := sim.New(testSimConfig(4))
	opts := testOptions(t)
	opts.PullTimeout = 10 * time.Millisecond
	opts.FaultThreshold = 2
	src := NewSource(dev, opts)
	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.Feed(testPackets(4, 0, 30)...)
	waitFor(t, "2 packets", func() bool { return src.Engine.Stats().Packets == 2 })

	if err := src.Conn.Close(); err != nil {
		t.Fatal(err)
	}
	// long enough for an orphaned loop to reach the timeout threshold
	time.Sleep(100 * time.Millisecond)
	if state := src.sh.State(); state != Disconnected {
		t.Fatalf("state after close: %s, want disconnected", state)
	}
	if err := src.Engine.Fault(); err != nil {
		t.Errorf("fault after close: %v", err)
	}

	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if state := src.sh.State(); state != Connected {
		t.Fatalf("state after reopen: %s, want connected", state)
	}
	if !src.FoundInputSource() {
		t.Error("FoundInputSource must report true after reopen")
	}

	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.Feed(testPackets(4, 0, 30, 60)...)
	waitFor(t, "3 packets", func() bool { return src.Engine.Stats().Packets == 3 })
	if counter := src.Engine.SampleCounter(); counter != 3*testSamples {
		t.Errorf("sample counter %d after restart, want %d", counter, 3*testSamples)
	}
	if err := src.StopAcquisition(); err != nil {
		t.Error(err)
	}
}

func TestOpenAfterFaultWithoutLink(t *testing.T) {
	dev := sim.New(testSimConfig(4))
	src := NewSource(dev, testOptions(t))
	defer src.Close()

	src.sh.Lock()
	src.sh.setState(Fault)
	src.sh.Unlock()

	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if state := src.sh.State(); state != Connected {
		t.Errorf("state after open: %s, want connected", state)
	}
}
