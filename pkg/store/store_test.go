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

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/probe"
)

func newTestState(t *testing.T) *ProbeState {
	t.Helper()
	s, err := NewProbeState(context.Background(), filepath.Join(t.TempDir(), "npx.db"))
	if err != nil {
		t.Fatalf("NewProbeState: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettings(t *testing.T) {
	s := newTestState(t)

	want := probe.DefaultTable(4)
	want.Channels[1].Electrode = 2
	want.Channels[2].ApGain = 1000
	want.Channels[3].Output = false
	want.Global.Filter = 1
	want.Global.ReferenceBank = 3

	if err := s.SaveSettings("000000000000002a", want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := s.LoadSettings("000000000000002a")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}

	got, err = s.LoadSettings("00000000000000ff")
	if err != nil || got != nil {
		t.Errorf("LoadSettings of an unknown probe = %v, %v, want nil, nil", got, err)
	}
}

func TestCalibration(t *testing.T) {
	s := newTestState(t)

	want := []device.Coefficient{{Ap: 1.001, Lfp: 0.999}, {Ap: 1, Lfp: 1}, {Ap: 0.987, Lfp: 1.012}}
	if err := s.SaveCalibration("000000000000002a", want); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	got, err := s.LoadCalibration("000000000000002a")
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("calibration mismatch (-want +got):\n%s", diff)
	}

	// settings alone do not make a calibration
	if err := s.SaveSettings("00000000000000ff", probe.DefaultTable(2)); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err = s.LoadCalibration("00000000000000ff")
	if err != nil || got != nil {
		t.Errorf("LoadCalibration without a calibration = %v, %v, want nil, nil", got, err)
	}
}

func TestProbesAndForget(t *testing.T) {
	s := newTestState(t)

	for _, serial := range []string{"b", "a", "c"} {
		if err := s.SaveSettings(serial, probe.DefaultTable(1)); err != nil {
			t.Fatalf("SaveSettings(%s): %v", serial, err)
		}
	}
	serials, err := s.Probes()
	if err != nil {
		t.Fatalf("Probes: %v", err)
	}
	sort.Strings(serials)
	if diff := cmp.Diff([]string{"a", "b", "c"}, serials); diff != "" {
		t.Errorf("probes mismatch (-want +got):\n%s", diff)
	}

	if err := s.Forget("b"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if got, _ := s.LoadSettings("b"); got != nil {
		t.Error("settings of a forgotten probe are still stored")
	}
	var notFound ErrBucketNotFound
	if err := s.Forget("b"); !errors.As(err, &notFound) {
		t.Errorf("second Forget returned %v, want ErrBucketNotFound", err)
	}

	serials, _ = s.Probes()
	sort.Strings(serials)
	if diff := cmp.Diff([]string{"a", "c"}, serials); diff != "" {
		t.Errorf("probes after Forget mismatch (-want +got):\n%s", diff)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npx.db")
	s, err := NewProbeState(context.Background(), path)
	if err != nil {
		t.Fatalf("NewProbeState: %v", err)
	}
	want := probe.DefaultTable(3)
	want.Channels[0].Reference = 1
	if err := s.SaveSettings("x", want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	s.Close()

	s, err = NewProbeState(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.LoadSettings("x")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings after reopen mismatch (-want +got):\n%s", diff)
	}
}
