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

package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/log"
	"jinr.ru/greenlab/go-npx/pkg/recording"
)

const (
	queueSize = 1024
	// apPerLfp is the number of AP samples per LFP sample
	apPerLfp = int(device.SampleRate / device.LfpSampleRate)
)

var ErrLinkClosed = errors.New("simulated link is closed")

type Config struct {
	Option        int
	TotalChans    int
	PacketSamples int
	Serial        uint64
	// Generate synthesizes packets at the real sample rate while streaming.
	// Without it only fed packets are delivered.
	Generate bool
}

func ConfigFromSimulator(cfg *config.SimulatorConfig) Config {
	return Config{
		Option:        cfg.Option,
		TotalChans:    cfg.TotalChans,
		PacketSamples: cfg.PacketSamples,
		Serial:        cfg.Serial,
		Generate:      true,
	}
}

// Write is a setting write received by the simulated basestation.
type Write struct {
	Channel int
	Field   device.Field
	Value   int
}

// Device is an in-process basestation with a probe attached. It keeps a log
// of setting writes and lets tests script packets and failures.
type Device struct {
	mu        sync.Mutex
	cfg       Config
	identity  device.Identity
	open      bool
	streaming bool
	writes    []Write
	settings  map[Write]int
	counter   uint32
	samples   uint64
	limiter   *rate.Limiter
	queue     chan *device.Packet
	calib     []device.Coefficient
	sink      *recording.Writer

	openFailures int
	writeErr     func(w Write) error
	pullErr      error
	calibErr     error
	streamErr    error
}

var _ ifc.Transport = &Device{}

func New(cfg Config) *Device {
	if cfg.PacketSamples <= 0 {
		cfg.PacketSamples = config.DefaultSimPacketSamples
	}
	numRefs := 5
	if cfg.Option >= 3 {
		numRefs = 11
	}
	d := &Device{
		cfg: cfg,
		identity: device.Identity{
			HardwareVersion: device.Version{Major: 2, Minor: 0},
			BsVersion:       2,
			BsRevision:      1,
			ApiVersion:      device.Version{Major: 4, Minor: 1},
			Asic:            device.AsicID{SerialNumber: cfg.Serial, ProbeType: uint8(cfg.Option)},
			Option:          uint8(cfg.Option),
			NumRefs:         numRefs,
			TotalChans:      cfg.TotalChans,
			AuxChans:        3,
			AdcChans:        16,
		},
		settings: map[Write]int{},
		queue:    make(chan *device.Packet, queueSize),
		limiter:  rate.NewLimiter(rate.Limit(device.SampleRate/float64(cfg.PacketSamples)), 8),
	}
	d.calib = make([]device.Coefficient, cfg.TotalChans)
	for i := range d.calib {
		d.calib[i] = device.Coefficient{
			Ap:  1 + 0.001*float64(i%7),
			Lfp: 1 - 0.001*float64(i%5),
		}
	}
	return d
}

// FailOpen makes the next n OpenLink calls fail.
func (d *Device) FailOpen(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openFailures = n
}

// FailWrites installs a hook deciding the result of every setting write.
func (d *Device) FailWrites(fn func(w Write) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeErr = fn
}

// FailPull makes PullPacket return err until it is reset with nil.
func (d *Device) FailPull(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pullErr = err
}

func (d *Device) FailCalibration(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibErr = err
}

func (d *Device) FailStreaming(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamErr = err
}

func (d *Device) SetCalibration(coefs []device.Coefficient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calib = append([]device.Coefficient(nil), coefs...)
}

// Feed queues packets for PullPacket. It never blocks; packets beyond the
// queue size are dropped.
func (d *Device) Feed(packets ...*device.Packet) {
	for _, p := range packets {
		select {
		case d.queue <- p:
		default:
			log.Warning("Simulator queue is full, packet %d dropped", p.Counter)
		}
	}
}

// Writes returns the setting writes received so far.
func (d *Device) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

func (d *Device) ResetWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

// Setting returns the value last written to a field.
func (d *Device) Setting(channel int, field device.Field) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.settings[Write{Channel: channel, Field: field}]
	return v, ok
}

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

func (d *Device) OpenLink(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openFailures > 0 {
		d.openFailures--
		return errors.New("basestation busy")
	}
	d.open = true
	return nil
}

func (d *Device) CloseLink() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.streaming = false
	return nil
}

func (d *Device) QueryIdentity() (*device.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrLinkClosed
	}
	id := d.identity
	return &id, nil
}

func (d *Device) WriteChannelSetting(channel int, field device.Field, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrLinkClosed
	}
	w := Write{Channel: channel, Field: field, Value: value}
	d.writes = append(d.writes, w)
	if d.writeErr != nil {
		if err := d.writeErr(w); err != nil {
			return err
		}
	}
	d.settings[Write{Channel: channel, Field: field}] = value
	return nil
}

func (d *Device) ReadCalibration() ([]device.Coefficient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrLinkClosed
	}
	if d.calibErr != nil {
		return nil, d.calibErr
	}
	return append([]device.Coefficient(nil), d.calib...), nil
}

func (d *Device) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrLinkClosed
	}
	if d.streamErr != nil {
		return d.streamErr
	}
	d.streaming = true
	return nil
}

func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	return nil
}

func (d *Device) PullPacket(timeout time.Duration) (*device.Packet, error) {
	d.mu.Lock()
	pullErr, generate := d.pullErr, d.cfg.Generate && d.streaming
	d.mu.Unlock()
	if pullErr != nil {
		return nil, pullErr
	}

	select {
	case p := <-d.queue:
		return p, nil
	default:
	}
	if generate {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, ifc.ErrPullTimeout
		}
		return d.generate(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-d.queue:
		return p, nil
	case <-timer.C:
		return nil, ifc.ErrPullTimeout
	}
}

// generate synthesizes the next packet: a sine per channel with a slowly
// varying LFP component and an event bit toggling once per second.
func (d *Device) generate() *device.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.cfg.PacketSamples
	chans := d.cfg.TotalChans
	lfp := n / apPerLfp
	if lfp < 1 {
		lfp = 1
	}
	p := &device.Packet{
		Counter:    d.counter,
		Samples:    n,
		LfpSamples: lfp,
		Chans:      chans,
		Ap:         make([]int16, n*chans),
		Lfp:        make([]int16, lfp*chans),
	}
	if (d.samples/uint64(device.SampleRate))%2 == 1 {
		p.Event = 1
	}
	for s := 0; s < n; s++ {
		t := float64(d.samples+uint64(s)) / device.SampleRate
		for ch := 0; ch < chans; ch++ {
			f := 300. + 10.*float64(ch%32)
			p.Ap[s*chans+ch] = int16(100 * math.Sin(2*math.Pi*f*t))
		}
	}
	for s := 0; s < lfp; s++ {
		t := float64(d.samples+uint64(s*apPerLfp)) / device.SampleRate
		for ch := 0; ch < chans; ch++ {
			p.Lfp[s*chans+ch] = int16(200 * math.Sin(2*math.Pi*8*t+float64(ch)/float64(chans)))
		}
	}
	d.counter += uint32(n)
	d.samples += uint64(n)
	return p
}

func (d *Device) StartRecordingSink(path string) (ifc.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sink != nil {
		return nil, fmt.Errorf("recording %s is already open", d.sink.Path())
	}
	w, err := recording.NewWriter(path)
	if err != nil {
		return nil, err
	}
	d.sink = w
	return w, nil
}

func (d *Device) StopRecordingSink() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sink == nil {
		return nil
	}
	err := d.sink.Close()
	d.sink = nil
	return err
}

// Triggered is a simulated basestation with an external trigger input.
type Triggered struct {
	*Device
	armed bool
}

var _ ifc.TriggerSource = &Triggered{}

func NewTriggered(cfg Config) *Triggered {
	return &Triggered{Device: New(cfg)}
}

// SetTrigger raises or lowers the trigger line.
func (t *Triggered) SetTrigger(armed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = armed
}

func (t *Triggered) TriggerArmed() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return false, ErrLinkClosed
	}
	return t.armed, nil
}
