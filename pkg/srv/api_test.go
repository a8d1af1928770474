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

package srv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/sim"
	"jinr.ru/greenlab/go-npx/pkg/probe"
	"jinr.ru/greenlab/go-npx/pkg/store"
)

type testServer struct {
	*httptest.Server
	src *probe.Source
	dev *sim.Device
}

func newTestServer(t *testing.T, generate bool, state *store.ProbeState) *testServer {
	t.Helper()
	dev := sim.New(sim.Config{Option: 3, TotalChans: 8, PacketSamples: 12, Serial: 42, Generate: generate})
	src := probe.NewSource(dev, probe.Options{
		OpenTimeout:         time.Second,
		PullTimeout:         20 * time.Millisecond,
		FaultThreshold:      1000,
		TriggerPollInterval: 5 * time.Millisecond,
		TriggerDelay:        30 * time.Millisecond,
		RecordDir:           t.TempDir(),
		RingFrames:          1 << 14,
	})
	if state != nil {
		src.UseStore(state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	api, err := NewApiServer(ctx, config.NewDefaultConfig(), src, state)
	if err != nil {
		cancel()
		t.Fatalf("NewApiServer: %v", err)
	}
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
		src.Close()
	})
	return &testServer{Server: ts, src: src, dev: dev}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}

func (s *testServer) connect(t *testing.T) {
	t.Helper()
	if code, body := s.do(t, "POST", "/api/connect", nil); code != http.StatusOK {
		t.Fatalf("connect answered %d: %s", code, body)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"out of range", probe.ErrOutOfRange{Channel: 400, Total: 384}, http.StatusBadRequest},
		{"invalid setting", probe.ErrInvalidSetting{Field: device.FieldApGain, Value: 7}, http.StatusBadRequest},
		{"calibration format", probe.ErrCalibrationFormat{Line: 2, What: "bad"}, http.StatusBadRequest},
		{"no outputs", probe.ErrNoOutputs{}, http.StatusBadRequest},
		{"unknown operation", ErrUnknownOperation{What: "x"}, http.StatusBadRequest},
		{"wrong state", probe.ErrWrongState{Op: "start", State: probe.Acquiring}, http.StatusConflict},
		{"monitor busy", ErrMonitorBusy{}, http.StatusConflict},
		{"not connected", probe.ErrNotConnected{Op: "start"}, http.StatusNotFound},
		{"store disabled", ErrStoreDisabled{}, http.StatusNotFound},
		{"wrapped", fmt.Errorf("apply settings: %w", probe.ErrNotConnected{}), http.StatusNotFound},
		{"joined", errors.Join(errors.New("link"), probe.ErrInvalidSetting{}), http.StatusBadRequest},
		{"transport", probe.ErrConnection{Err: errors.New("timeout")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnection(t *testing.T) {
	s := newTestServer(t, false, nil)

	if code, _ := s.do(t, "GET", "/api/info", nil); code != http.StatusNotFound {
		t.Errorf("info before connect answered %d, want 404", code)
	}
	s.connect(t)

	code, body := s.do(t, "GET", "/api/info", nil)
	if code != http.StatusOK {
		t.Fatalf("info answered %d: %s", code, body)
	}
	var info probe.Info
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	want := probe.Info{Hardware: "2.0", Basestation: "2.1", Api: "4.1", Asic: "000000000000002a", ProbeType: 3, Option: 3}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}

	if code, _ := s.do(t, "POST", "/api/disconnect", nil); code != http.StatusOK {
		t.Errorf("disconnect answered %d", code)
	}
	code, body = s.do(t, "GET", "/api/status", nil)
	if code != http.StatusOK {
		t.Fatalf("status answered %d", code)
	}
	var status probe.Status
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != probe.Disconnected {
		t.Errorf("state after disconnect is %s", status.State)
	}
}

func TestSettingsRequests(t *testing.T) {
	s := newTestServer(t, false, nil)
	s.connect(t)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"gain", "/api/set/gain", Gain{Channel: 1, Ap: 1000, Lfp: 50, Transmit: true}, http.StatusOK},
		{"invalid gain", "/api/set/gain", Gain{Channel: 1, Ap: 7, Lfp: 50}, http.StatusBadRequest},
		{"channel out of range", "/api/set/electrode", ChannelValue{Channel: 8, Value: 1}, http.StatusBadRequest},
		{"malformed body", "/api/set/filter", "{", http.StatusBadRequest},
		{"gains need a band", "/api/set/gains", AllGains{}, http.StatusBadRequest},
		{"all ap gains", "/api/set/gains", AllGains{Ap: 2000}, http.StatusOK},
		{"filter", "/api/set/filter", Filter{Filter: 1, Transmit: true}, http.StatusOK},
		{"output", "/api/set/output", Output{Channel: 3, On: false}, http.StatusOK},
		{"calibration without path", "/api/calibrate/file", CalibrationFile{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := s.do(t, "POST", tt.path, tt.body); code != tt.want {
				t.Errorf("%s answered %d, want %d: %s", tt.path, code, tt.want, body)
			}
		})
	}

	code, body := s.do(t, "GET", "/api/settings", nil)
	if code != http.StatusOK {
		t.Fatalf("settings answered %d", code)
	}
	var snapshot probe.TableSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	ch := snapshot.Staged.Channels
	if ch[1].ApGain != 2000 || ch[1].LfpGain != 50 || ch[3].Output || snapshot.Staged.Global.Filter != 1 {
		t.Errorf("unexpected staged settings: %+v %+v", ch, snapshot.Staged.Global)
	}
	if v, ok := s.dev.Setting(1, device.FieldApGain); !ok || v != 1000 {
		t.Errorf("basestation ap gain of channel 1 is %d, want the transmitted 1000", v)
	}

	code, body = s.do(t, "GET", "/api/bitvolts/1", nil)
	if code != http.StatusOK {
		t.Fatalf("bitvolts answered %d", code)
	}
	var bv BitVolts
	if err := json.Unmarshal(body, &bv); err != nil {
		t.Fatalf("decode bitvolts: %v", err)
	}
	if bv.BitVolts != 1.171875 {
		t.Errorf("bit volts of channel 1 = %v, want 1.171875", bv.BitVolts)
	}
	if code, _ := s.do(t, "GET", "/api/bitvolts/1000", nil); code != http.StatusBadRequest {
		t.Errorf("bitvolts out of range answered %d, want 400", code)
	}
}

func TestAcquisitionRequests(t *testing.T) {
	s := newTestServer(t, false, nil)

	if code, _ := s.do(t, "POST", "/api/acq/start", nil); code != http.StatusNotFound {
		t.Errorf("start before connect answered %d, want 404", code)
	}
	s.connect(t)
	if code, body := s.do(t, "POST", "/api/acq/start", nil); code != http.StatusOK {
		t.Fatalf("start answered %d: %s", code, body)
	}
	if code, _ := s.do(t, "POST", "/api/acq/start", nil); code != http.StatusConflict {
		t.Errorf("second start answered %d, want 409", code)
	}
	if state := s.src.Status().State; state != probe.Acquiring {
		t.Errorf("state after start is %s", state)
	}
	if code, _ := s.do(t, "POST", "/api/acq/stop", nil); code != http.StatusOK {
		t.Errorf("stop answered %d", code)
	}
	if state := s.src.Status().State; state != probe.Connected {
		t.Errorf("state after stop is %s", state)
	}
	if code, _ := s.do(t, "POST", "/api/acq/pause", nil); code != http.StatusNotFound {
		t.Errorf("unknown action answered %d, want 404", code)
	}
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, false, nil)
	if code, _ := s.do(t, "GET", "/api/probes", nil); code != http.StatusNotFound {
		t.Errorf("probes without a store answered %d, want 404", code)
	}

	state, err := store.NewProbeState(context.Background(), filepath.Join(t.TempDir(), "npx.db"))
	if err != nil {
		t.Fatalf("NewProbeState: %v", err)
	}
	defer state.Close()
	s = newTestServer(t, false, state)
	s.connect(t)
	if code, _ := s.do(t, "POST", "/api/set/filter", Filter{Filter: 1}); code != http.StatusOK {
		t.Fatalf("set filter answered %d", code)
	}

	code, body := s.do(t, "GET", "/api/probes", nil)
	if code != http.StatusOK {
		t.Fatalf("probes answered %d", code)
	}
	var serials []string
	if err := json.Unmarshal(body, &serials); err != nil {
		t.Fatalf("decode probes: %v", err)
	}
	if diff := cmp.Diff([]string{"000000000000002a"}, serials); diff != "" {
		t.Errorf("probes mismatch (-want +got):\n%s", diff)
	}

	if code, _ := s.do(t, "DELETE", "/api/probes/000000000000002a", nil); code != http.StatusOK {
		t.Errorf("forget answered %d", code)
	}
	if code, _ := s.do(t, "DELETE", "/api/probes/000000000000002a", nil); code != http.StatusNotFound {
		t.Errorf("second forget answered %d, want 404", code)
	}
}

func TestDocs(t *testing.T) {
	s := newTestServer(t, false, nil)
	code, body := s.do(t, "GET", "/swagger.json", nil)
	if code != http.StatusOK {
		t.Fatalf("swagger.json answered %d", code)
	}
	if !strings.Contains(string(body), "/api/acq/{action}") {
		t.Error("API description misses the acquisition endpoint")
	}
}

func TestMonitor(t *testing.T) {
	s := newTestServer(t, true, nil)
	s.connect(t)
	if code, body := s.do(t, "POST", "/api/acq/start", nil); code != http.StatusOK {
		t.Fatalf("start answered %d: %s", code, body)
	}

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/monitor?decimation=10&channels=4"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second monitor attached")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("second monitor got %v, want 409", resp)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Frames
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read monitor message: %v", err)
	}
	if len(msg.Values) == 0 || len(msg.Values) != len(msg.Timestamps) {
		t.Fatalf("got %d rows and %d timestamps", len(msg.Values), len(msg.Timestamps))
	}
	for i, row := range msg.Values {
		if len(row) != 4 {
			t.Fatalf("row %d has %d channels, want 4", i, len(row))
		}
	}
	for i := 1; i < len(msg.Timestamps); i++ {
		if msg.Timestamps[i] <= msg.Timestamps[i-1] {
			t.Fatalf("timestamp %d is %d, not after %d", i, msg.Timestamps[i], msg.Timestamps[i-1])
		}
	}

	if code, _ := s.do(t, "GET", "/api/monitor?decimation=0", nil); code != http.StatusBadRequest {
		t.Errorf("monitor with zero decimation answered %d, want 400", code)
	}
}
