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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestLoadDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "missing"))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load without a file: %v", err)
	}
	want := NewDefaultConfig()
	want.SetPath(cfg.Path())
	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreUnexported(Config{})); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	data := []byte(`log_level: debug
api:
  port: 9010
device:
  transport: udp
  address: 192.168.1.10:9000
  fault_threshold: 5
simulator:
  total_chans: 96
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("NPX_DEVICE__PULL_TIMEOUT", "250ms")
	t.Setenv("NPX_API__PORT", "9020")

	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"log level from file", cfg.LogLevel, "debug"},
		{"env overrides file", cfg.Api.Port, 9020},
		{"transport from file", cfg.Device.Transport, TransportUDP},
		{"address from file", cfg.Device.Address, "192.168.1.10:9000"},
		{"threshold from file", cfg.Device.FaultThreshold, 5},
		{"duration from env", cfg.Device.PullTimeout, 250 * time.Millisecond},
		{"default kept", cfg.Device.TriggerDelay, DefaultTriggerDelay},
		{"nested file value", cfg.Simulator.TotalChans, 96},
		{"path kept", cfg.Path(), path},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	cfg.Device.FaultThreshold = 7

	if err := cfg.Persist(false); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	var exists ErrConfigFileExists
	if err := cfg.Persist(false); !errors.As(err, &exists) {
		t.Errorf("second Persist returned %v, want ErrConfigFileExists", err)
	}
	if err := cfg.Persist(true); err != nil {
		t.Errorf("Persist with overwrite: %v", err)
	}

	loaded := NewDefaultConfig()
	loaded.SetPath(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Device.FaultThreshold != 7 {
		t.Errorf("fault threshold %d after reload, want 7", loaded.Device.FaultThreshold)
	}
}
