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

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

type ChannelSettings struct {
	Electrode int  `json:"electrode"`
	Reference int  `json:"reference"`
	ApGain    int  `json:"ap_gain"`
	LfpGain   int  `json:"lfp_gain"`
	Output    bool `json:"output"`
}

type GlobalSettings struct {
	Filter        int `json:"filter"`
	ReferenceBank int `json:"reference_bank"`
}

// Table is the full configuration of a probe. Output is host side only and
// never written to the hardware.
type Table struct {
	Channels []ChannelSettings `json:"channels"`
	Global   GlobalSettings    `json:"global"`
}

func DefaultTable(totalChans int) *Table {
	t := &Table{Channels: make([]ChannelSettings, totalChans)}
	for i := range t.Channels {
		t.Channels[i] = ChannelSettings{
			ApGain:  device.DefaultApGain,
			LfpGain: device.DefaultLfpGain,
			Output:  true,
		}
	}
	return t
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := &Table{Channels: make([]ChannelSettings, len(t.Channels)), Global: t.Global}
	copy(c.Channels, t.Channels)
	return c
}

func (t *Table) value(w Write) int {
	if w.Field.Global() {
		switch w.Field {
		case device.FieldFilter:
			return t.Global.Filter
		default:
			return t.Global.ReferenceBank
		}
	}
	ch := &t.Channels[w.Channel]
	switch w.Field {
	case device.FieldElectrode:
		return ch.Electrode
	case device.FieldReference:
		return ch.Reference
	case device.FieldApGain:
		return ch.ApGain
	default:
		return ch.LfpGain
	}
}

func (t *Table) set(w Write) {
	if w.Field.Global() {
		switch w.Field {
		case device.FieldFilter:
			t.Global.Filter = w.Value
		default:
			t.Global.ReferenceBank = w.Value
		}
		return
	}
	ch := &t.Channels[w.Channel]
	switch w.Field {
	case device.FieldElectrode:
		ch.Electrode = w.Value
	case device.FieldReference:
		ch.Reference = w.Value
	case device.FieldApGain:
		ch.ApGain = w.Value
	default:
		ch.LfpGain = w.Value
	}
}

// Write is a single hardware setting command. Channel is -1 for globals.
type Write struct {
	Channel int          `json:"channel"`
	Field   device.Field `json:"field"`
	Value   int          `json:"value"`
}

var channelFields = []device.Field{
	device.FieldElectrode,
	device.FieldReference,
	device.FieldApGain,
	device.FieldLfpGain,
}

var globalFields = []device.Field{
	device.FieldFilter,
	device.FieldReferenceBank,
}

// ChannelConfigStore keeps the staged (desired) and applied (last written)
// tables and turns their difference into hardware writes.
type ChannelConfigStore struct {
	sh   *Shared
	conn *ConnectionManager

	// guarded by sh
	staged  *Table
	applied *Table
	onStage func(staged *Table)
}

func NewChannelConfigStore(sh *Shared, conn *ConnectionManager) *ChannelConfigStore {
	s := &ChannelConfigStore{sh: sh, conn: conn}
	conn.AddHook(s.reset)
	return s
}

// OnStage registers a callback run with the lock held after every staged
// change, e.g. to persist the desired configuration.
func (s *ChannelConfigStore) OnStage(fn func(staged *Table)) {
	s.sh.Lock()
	defer s.sh.Unlock()
	s.onStage = fn
}

// reset runs on open and close. The hardware comes up with defaults; staged
// settings of the same probe geometry survive a reconnect and are applied
// by the next reconcile.
func (s *ChannelConfigStore) reset(id *device.Identity) {
	if id == nil {
		s.applied = nil
		return
	}
	s.applied = DefaultTable(id.TotalChans)
	if s.staged == nil || len(s.staged.Channels) != id.TotalChans {
		s.staged = DefaultTable(id.TotalChans)
	}
}

// Restore replaces the staged table, e.g. with one loaded from the store.
func (s *ChannelConfigStore) Restore(t *Table) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if s.sh.identity == nil {
		return ErrNotConnected{Op: "restore settings"}
	}
	if t == nil || len(t.Channels) != s.sh.identity.TotalChans {
		return errors.New("restored table does not match the channel count")
	}
	s.staged = t.Clone()
	return nil
}

func (s *ChannelConfigStore) checkChannel(ch int) error {
	if s.sh.identity == nil {
		return ErrNotConnected{Op: "configure channel"}
	}
	if ch < 0 || ch >= s.sh.identity.TotalChans {
		return ErrOutOfRange{Channel: ch, Total: s.sh.identity.TotalChans}
	}
	return nil
}

func (s *ChannelConfigStore) checkConnected() error {
	if s.sh.identity == nil {
		return ErrNotConnected{Op: "configure probe"}
	}
	return nil
}

func (s *ChannelConfigStore) validElectrode(connection int) bool {
	return connection == device.ElectrodeDisconnected ||
		(connection >= 0 && connection < s.sh.identity.Banks())
}

func (s *ChannelConfigStore) validReference(ref int) bool {
	return ref >= 0 && ref < s.sh.identity.NumRefs
}

func (s *ChannelConfigStore) SetElectrode(ch, connection int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	if !s.validElectrode(connection) {
		return ErrInvalidSetting{Field: device.FieldElectrode, Value: connection}
	}
	s.staged.Channels[ch].Electrode = connection
	return s.stagedLocked(transmit, ch)
}

func (s *ChannelConfigStore) SetReference(ch, ref int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	if !s.validReference(ref) {
		return ErrInvalidSetting{Field: device.FieldReference, Value: ref}
	}
	s.staged.Channels[ch].Reference = ref
	return s.stagedLocked(transmit, ch)
}

// SetAllReferences selects ref on every channel and bank as the bank the
// reference electrodes are taken from.
func (s *ChannelConfigStore) SetAllReferences(ref, bank int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !s.validReference(ref) {
		return ErrInvalidSetting{Field: device.FieldReference, Value: ref}
	}
	if bank < 0 || bank >= s.sh.identity.Banks() {
		return ErrInvalidSetting{Field: device.FieldReferenceBank, Value: bank}
	}
	for i := range s.staged.Channels {
		s.staged.Channels[i].Reference = ref
	}
	s.staged.Global.ReferenceBank = bank
	return s.stagedLocked(transmit, -1)
}

func (s *ChannelConfigStore) SetGain(ch, apGain, lfpGain int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	if !device.ValidGain(apGain) {
		return ErrInvalidSetting{Field: device.FieldApGain, Value: apGain}
	}
	if !device.ValidGain(lfpGain) {
		return ErrInvalidSetting{Field: device.FieldLfpGain, Value: lfpGain}
	}
	s.staged.Channels[ch].ApGain = apGain
	s.staged.Channels[ch].LfpGain = lfpGain
	return s.stagedLocked(transmit, ch)
}

func (s *ChannelConfigStore) SetAllApGains(gain int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !device.ValidGain(gain) {
		return ErrInvalidSetting{Field: device.FieldApGain, Value: gain}
	}
	for i := range s.staged.Channels {
		s.staged.Channels[i].ApGain = gain
	}
	return s.stagedLocked(transmit, -1)
}

func (s *ChannelConfigStore) SetAllLfpGains(gain int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !device.ValidGain(gain) {
		return ErrInvalidSetting{Field: device.FieldLfpGain, Value: gain}
	}
	for i := range s.staged.Channels {
		s.staged.Channels[i].LfpGain = gain
	}
	return s.stagedLocked(transmit, -1)
}

// SetFilter selects the device-global AP high-pass filter.
func (s *ChannelConfigStore) SetFilter(filter int, transmit bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !device.ValidFilter(filter) {
		return ErrInvalidSetting{Field: device.FieldFilter, Value: filter}
	}
	s.staged.Global.Filter = filter
	return s.stagedLocked(transmit, -1)
}

// SetOutput marks whether the channel is passed on to the host. It does not
// touch the hardware so it takes effect on both tables at once.
func (s *ChannelConfigStore) SetOutput(ch int, on bool) error {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	s.staged.Channels[ch].Output = on
	s.applied.Channels[ch].Output = on
	return s.stagedLocked(false, ch)
}

// stagedLocked finishes a setter. With transmit the writes that touch the
// channel (or all, for ch < 0) go out now if the probe is idle; otherwise
// they stay queued for the next reconcile.
func (s *ChannelConfigStore) stagedLocked(transmit bool, ch int) error {
	if s.onStage != nil {
		s.onStage(s.staged)
	}
	if !transmit {
		return nil
	}
	if s.sh.state != Connected {
		log.Debug("Setting queued: probe is %s", s.sh.state)
		return nil
	}
	writes := s.diffLocked()
	if ch >= 0 {
		selected := writes[:0]
		for _, w := range writes {
			if w.Channel == ch || w.Field.Global() {
				selected = append(selected, w)
			}
		}
		writes = selected
	}
	return s.applyLocked(writes)
}

// diffLocked lists one write per field whose staged value differs from the
// applied one.
func (s *ChannelConfigStore) diffLocked() []Write {
	if s.staged == nil || s.applied == nil {
		return nil
	}
	var writes []Write
	for ch := range s.staged.Channels {
		for _, f := range channelFields {
			w := Write{Channel: ch, Field: f}
			if v := s.staged.value(w); v != s.applied.value(w) {
				w.Value = v
				writes = append(writes, w)
			}
		}
	}
	for _, f := range globalFields {
		w := Write{Channel: -1, Field: f}
		if v := s.staged.value(w); v != s.applied.value(w) {
			w.Value = v
			writes = append(writes, w)
		}
	}
	return writes
}

// applyLocked issues every write even if some fail. Failed writes keep
// their staged value and are retried by the next reconcile.
func (s *ChannelConfigStore) applyLocked(writes []Write) error {
	var errs []error
	for _, w := range writes {
		if err := s.conn.dispatch(w.Channel, w.Field, w.Value); err != nil {
			errs = append(errs, fmt.Errorf("channel %d %s: %w", w.Channel, w.Field, err))
			continue
		}
		s.applied.set(w)
	}
	if len(errs) > 0 {
		log.Error("%d of %d setting writes failed", len(errs), len(writes))
	}
	return errors.Join(errs...)
}

// Reconcile writes every outstanding difference to the hardware. It is
// refused while acquisition is running.
func (s *ChannelConfigStore) Reconcile() error {
	s.sh.Lock()
	defer s.sh.Unlock()
	return s.reconcileLocked()
}

func (s *ChannelConfigStore) reconcileLocked() error {
	if s.sh.identity == nil {
		return ErrNotConnected{Op: "reconcile settings"}
	}
	switch s.sh.state {
	case Connected, Configuring, Stopping:
	default:
		return ErrWrongState{Op: "reconcile settings", State: s.sh.state}
	}
	writes := s.diffLocked()
	if len(writes) == 0 {
		return nil
	}
	log.Info("Reconciling %d setting writes", len(writes))
	return s.applyLocked(writes)
}

// Pending returns the number of writes the next reconcile would issue.
func (s *ChannelConfigStore) Pending() int {
	s.sh.Lock()
	defer s.sh.Unlock()
	return len(s.diffLocked())
}

type TableSnapshot struct {
	Staged  *Table  `json:"staged"`
	Applied *Table  `json:"applied"`
	Pending []Write `json:"pending"`
}

func (s *ChannelConfigStore) Snapshot() (*TableSnapshot, error) {
	s.sh.Lock()
	defer s.sh.Unlock()
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return &TableSnapshot{
		Staged:  s.staged.Clone(),
		Applied: s.applied.Clone(),
		Pending: s.diffLocked(),
	}, nil
}

// appliedLocked is read by the engine and the bit-volt queries.
func (s *ChannelConfigStore) appliedLocked() *Table {
	return s.applied
}
