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
	"fmt"
	"time"

	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

const (
	// AuxBitVolts is the step of the headstage accelerometer inputs in volts.
	AuxBitVolts = 0.0000374
	// AdcBitVolts is the step of the +-10 V basestation ADC inputs in volts.
	AdcBitVolts = 20. / 65536
)

type ChannelKind string

const (
	KindAP  ChannelKind = "ap"
	KindLFP ChannelKind = "lfp"
	KindAux ChannelKind = "aux"
	KindADC ChannelKind = "adc"
)

// ChannelInfo describes one continuous channel as seen by the host.
type ChannelInfo struct {
	Index      int         `json:"index"`
	Name       string      `json:"name"`
	Kind       ChannelKind `json:"kind"`
	Channel    int         `json:"channel"`
	Electrode  int         `json:"electrode"`
	Gain       int         `json:"gain,omitempty"`
	BitVolts   float64     `json:"bit_volts"`
	SampleRate float64     `json:"sample_rate"`
	Enabled    bool        `json:"enabled"`
}

// SettingsStore persists the desired configuration and calibration of a
// probe across restarts, keyed by the probe serial number.
type SettingsStore interface {
	LoadSettings(serial string) (*Table, error)
	SaveSettings(serial string, t *Table) error
	LoadCalibration(serial string) ([]device.Coefficient, error)
	SaveCalibration(serial string, coefs []device.Coefficient) error
}

type Options struct {
	OpenTimeout         time.Duration
	PullTimeout         time.Duration
	FaultThreshold      int
	TriggerPollInterval time.Duration
	TriggerDelay        time.Duration
	RecordDir           string
	RingFrames          int
}

func OptionsFromConfig(cfg *config.DeviceConfig) Options {
	return Options{
		OpenTimeout:         cfg.OpenTimeout,
		PullTimeout:         cfg.PullTimeout,
		FaultThreshold:      cfg.FaultThreshold,
		TriggerPollInterval: cfg.TriggerPollInterval,
		TriggerDelay:        cfg.TriggerDelay,
		RecordDir:           cfg.RecordDir,
		RingFrames:          cfg.RingFrames,
	}
}

// Source is the acquisition capability handed to the host: one probe behind
// one transport, with every component sharing a single lock.
type Source struct {
	sh          *Shared
	Conn        *ConnectionManager
	Channels    *ChannelConfigStore
	Calibration *CalibrationController
	Engine      *AcquisitionEngine
	Trigger     *TriggerController
	Record      *RecordModeGate
	store       SettingsStore
}

func NewSource(transport ifc.Transport, opts Options) *Source {
	sh := NewShared()
	conn := NewConnectionManager(sh, transport, opts.OpenTimeout)
	channels := NewChannelConfigStore(sh, conn)
	calib := NewCalibrationController(sh, conn)
	trigger := NewTriggerController(sh, conn, opts.TriggerPollInterval, opts.TriggerDelay)
	record := NewRecordModeGate(sh, conn, opts.RecordDir)
	engine := NewAcquisitionEngine(sh, conn, channels, calib, trigger, record, EngineOptions{
		PullTimeout:    opts.PullTimeout,
		FaultThreshold: opts.FaultThreshold,
		RingFrames:     opts.RingFrames,
	})
	return &Source{
		sh:          sh,
		Conn:        conn,
		Channels:    channels,
		Calibration: calib,
		Engine:      engine,
		Trigger:     trigger,
		Record:      record,
	}
}

// UseStore makes the source persist staged settings and calibrations and
// restore them on every open.
func (s *Source) UseStore(store SettingsStore) {
	s.store = store
	s.Channels.OnStage(func(staged *Table) {
		if err := store.SaveSettings(s.sh.identity.Serial(), staged); err != nil {
			log.Warning("Can not save settings: %s", err)
		}
	})
	s.Calibration.OnApply(func(coefs []device.Coefficient) {
		if err := store.SaveCalibration(s.sh.identity.Serial(), coefs); err != nil {
			log.Warning("Can not save calibration: %s", err)
		}
	})
}

func (s *Source) Open(ctx context.Context) error {
	if err := s.Conn.Open(ctx); err != nil {
		return err
	}
	if s.store != nil {
		s.restore()
	}
	return nil
}

func (s *Source) restore() {
	id, err := s.Conn.Identity()
	if err != nil {
		return
	}
	serial := id.Serial()
	if t, err := s.store.LoadSettings(serial); err != nil {
		log.Warning("Can not load settings of probe %s: %s", serial, err)
	} else if t != nil {
		if err := s.Channels.Restore(t); err != nil {
			log.Warning("Stored settings of probe %s ignored: %s", serial, err)
		} else {
			log.Info("Restored settings of probe %s", serial)
		}
	}
	if coefs, err := s.store.LoadCalibration(serial); err != nil {
		log.Warning("Can not load calibration of probe %s: %s", serial, err)
	} else if coefs != nil {
		if err := s.Calibration.Restore(coefs); err != nil {
			log.Warning("Stored calibration of probe %s ignored: %s", serial, err)
		}
	}
}

// Close stops a running acquisition and closes the link.
func (s *Source) Close() error {
	switch s.sh.State() {
	case Armed, Acquiring, Fault:
		if err := s.Engine.Stop(); err != nil {
			log.Warning("Error while stopping acquisition: %s", err)
		}
	}
	return s.Conn.Close()
}

func (s *Source) FoundInputSource() bool {
	return s.Conn.IsAvailable()
}

type Info struct {
	Hardware    string `json:"hardware"`
	Basestation string `json:"basestation"`
	Api         string `json:"api"`
	Asic        string `json:"asic"`
	ProbeType   uint8  `json:"probe_type"`
	Option      int    `json:"option"`
}

func (s *Source) Info() (Info, error) {
	id, err := s.Conn.Identity()
	if err != nil {
		return Info{}, err
	}
	return Info{
		Hardware:    id.HardwareVersion.String(),
		Basestation: fmt.Sprintf("%d.%d", id.BsVersion, id.BsRevision),
		Api:         id.ApiVersion.String(),
		Asic:        id.Serial(),
		ProbeType:   id.Asic.ProbeType,
		Option:      int(id.Option),
	}, nil
}

func (s *Source) StartAcquisition() error {
	return s.Engine.Start()
}

func (s *Source) StopAcquisition() error {
	return s.Engine.Stop()
}

func (s *Source) UpdateBuffer() bool {
	return s.Engine.UpdateBuffer()
}

func (s *Source) SampleRate() float64 {
	return device.SampleRate
}

func (s *Source) NumEventChannels() int {
	return 1
}

func (s *Source) NumHeadstageOutputs() int {
	s.sh.Lock()
	defer s.sh.Unlock()
	n := 0
	if s.Engine.sendAp {
		n += s.sh.totalChans()
	}
	if s.Engine.sendLfp {
		n += s.sh.totalChans()
	}
	return n
}

func (s *Source) NumAuxOutputs() int {
	s.sh.Lock()
	defer s.sh.Unlock()
	if s.sh.identity == nil {
		return 0
	}
	return s.sh.identity.AuxChans
}

func (s *Source) NumAdcOutputs() int {
	s.sh.Lock()
	defer s.sh.Unlock()
	if s.sh.identity == nil {
		return 0
	}
	return s.sh.identity.AdcChans
}

func (s *Source) ProbeOption() (int, error) {
	return s.Conn.ProbeOption()
}

// UpdateChannels rebuilds the channel descriptors from the applied
// settings: AP channels, then LFP, aux and ADC.
func (s *Source) UpdateChannels() []ChannelInfo {
	s.sh.Lock()
	defer s.sh.Unlock()
	return s.describeLocked()
}

func (s *Source) describeLocked() []ChannelInfo {
	id := s.sh.identity
	applied := s.Channels.appliedLocked()
	if id == nil || applied == nil {
		return nil
	}
	var infos []ChannelInfo
	add := func(info ChannelInfo) {
		info.Index = len(infos)
		infos = append(infos, info)
	}
	if s.Engine.sendAp {
		for i, ch := range applied.Channels {
			add(ChannelInfo{
				Name: fmt.Sprintf("AP%d", i+1), Kind: KindAP, Channel: i,
				Electrode: ch.Electrode, Gain: ch.ApGain, BitVolts: BitVolts(ch.ApGain),
				SampleRate: device.SampleRate, Enabled: ch.Output,
			})
		}
	}
	if s.Engine.sendLfp {
		for i, ch := range applied.Channels {
			add(ChannelInfo{
				Name: fmt.Sprintf("LFP%d", i+1), Kind: KindLFP, Channel: i,
				Electrode: ch.Electrode, Gain: ch.LfpGain, BitVolts: BitVolts(ch.LfpGain),
				SampleRate: device.LfpSampleRate, Enabled: ch.Output,
			})
		}
	}
	for i := 0; i < id.AuxChans; i++ {
		add(ChannelInfo{
			Name: fmt.Sprintf("AUX%d", i+1), Kind: KindAux, Channel: i,
			BitVolts: AuxBitVolts, SampleRate: device.SampleRate / 4, Enabled: true,
		})
	}
	for i := 0; i < id.AdcChans; i++ {
		add(ChannelInfo{
			Name: fmt.Sprintf("ADC%d", i+1), Kind: KindADC, Channel: i,
			BitVolts: AdcBitVolts, SampleRate: device.SampleRate, Enabled: true,
		})
	}
	return infos
}

// BitVolts returns the step size of a host channel, recomputed from the
// gains the hardware currently applies.
func (s *Source) BitVolts(index int) (float64, error) {
	s.sh.Lock()
	defer s.sh.Unlock()
	infos := s.describeLocked()
	if infos == nil {
		return 0, ErrNotConnected{Op: "get bit volts"}
	}
	if index < 0 || index >= len(infos) {
		return 0, ErrOutOfRange{Channel: index, Total: len(infos)}
	}
	return infos[index].BitVolts, nil
}

func (s *Source) SetTriggerMode(external bool) {
	s.Trigger.SetTriggerMode(external)
}

func (s *Source) SetRecordMode(on bool) error {
	return s.Record.SetRecordMode(on)
}

func (s *Source) ToggleApData(send bool) {
	s.Engine.ToggleApData(send)
}

func (s *Source) ToggleLfpData(send bool) {
	s.Engine.ToggleLfpData(send)
}

func (s *Source) Buffer() (*Ring, *EventRing) {
	return s.Engine.Buffer()
}

type Status struct {
	State       State             `json:"state"`
	Available   bool              `json:"available"`
	Identity    *device.Identity  `json:"identity,omitempty"`
	SendAp      bool              `json:"send_ap"`
	SendLfp     bool              `json:"send_lfp"`
	Pending     int               `json:"pending_writes"`
	Stats       Stats             `json:"stats"`
	Gaps        []ErrPacketGap    `json:"recent_gaps,omitempty"`
	Fault       string            `json:"fault,omitempty"`
	Calibration CalibrationStatus `json:"calibration"`
	Trigger     TriggerState      `json:"trigger"`
	Record      RecordStatus      `json:"record"`
}

// Status is a consistent snapshot of every component.
func (s *Source) Status() Status {
	s.sh.Lock()
	defer s.sh.Unlock()
	st := Status{
		State:       s.sh.state,
		Available:   s.sh.available.Load(),
		SendAp:      s.Engine.sendAp,
		SendLfp:     s.Engine.sendLfp,
		Pending:     len(s.Channels.diffLocked()),
		Stats:       s.Engine.stats,
		Gaps:        append([]ErrPacketGap(nil), s.Engine.gaps...),
		Calibration: s.Calibration.status,
		Trigger:     s.Trigger.state,
		Record: RecordStatus{
			Desired: s.Record.desired,
			Active:  s.Record.sink != nil,
			Number:  s.Record.number,
			Path:    s.Record.path,
			Packets: s.Record.packets,
		},
	}
	if s.sh.identity != nil {
		id := *s.sh.identity
		st.Identity = &id
	}
	if s.Engine.fault != nil {
		st.Fault = s.Engine.fault.Error()
	}
	return st
}
