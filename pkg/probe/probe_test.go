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
	"testing"
	"time"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/sim"
)

const testSamples = 30

func testOptions(t *testing.T) Options {
	return Options{
		OpenTimeout:         time.Second,
		PullTimeout:         20 * time.Millisecond,
		FaultThreshold:      1000,
		TriggerPollInterval: 5 * time.Millisecond,
		TriggerDelay:        30 * time.Millisecond,
		RecordDir:           t.TempDir(),
		RingFrames:          4096,
	}
}

func testSimConfig(chans int) sim.Config {
	return sim.Config{Option: 3, TotalChans: chans, PacketSamples: testSamples, Serial: 42}
}

// newTestSource returns a source connected to a simulated basestation that
// only delivers fed packets.
func newTestSource(t *testing.T, chans int) (*Source, *sim.Device) {
	t.Helper()
	dev := sim.New(testSimConfig(chans))
	src := NewSource(dev, testOptions(t))
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %s", err)
	}
	t.Cleanup(func() { src.Close() })
	return src, dev
}

// testPacket fills every AP sample with ap and the single LFP sample with lfp.
func testPacket(counter uint32, chans int, ap, lfp int16) *device.Packet {
	p := &device.Packet{
		Counter:    counter,
		Samples:    testSamples,
		LfpSamples: 1,
		Chans:      chans,
		Ap:         make([]int16, testSamples*chans),
		Lfp:        make([]int16, chans),
	}
	for i := range p.Ap {
		p.Ap[i] = ap
	}
	for i := range p.Lfp {
		p.Lfp[i] = lfp
	}
	return p
}

func testPackets(chans int, counters ...uint32) []*device.Packet {
	packets := make([]*device.Packet, len(counters))
	for i, c := range counters {
		packets[i] = testPacket(c, chans, 1, 1)
	}
	return packets
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, src *Source, state State) {
	t.Helper()
	waitFor(t, state.String(), func() bool { return src.sh.State() == state })
}

// drain reads everything the ring holds and returns the number of frames.
func drain(ring *Ring) int {
	data := make([]float32, 256*ring.Width())
	stamps := make([]int64, 256)
	total := 0
	for {
		n := ring.Read(data, stamps)
		if n == 0 {
			return total
		}
		total += n
	}
}
