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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

func TestParseCalibration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		chans   int
		want    []device.Coefficient
		wantErr error
	}{
		{
			name:  "comma separated with comments",
			input: "# ap,lfp\n1.01,0.99\n\n1.02,0.98\n",
			chans: 2,
			want:  []device.Coefficient{{Ap: 1.01, Lfp: 0.99}, {Ap: 1.02, Lfp: 0.98}},
		},
		{
			name:  "whitespace separated",
			input: "1 1\n2\t0.5\n",
			chans: 2,
			want:  []device.Coefficient{{Ap: 1, Lfp: 1}, {Ap: 2, Lfp: 0.5}},
		},
		{
			name:    "row count mismatch",
			input:   "1,1\n1,1\n1,1\n",
			chans:   2,
			wantErr: ErrCalibrationFormat{What: "3 rows for 2 channels"},
		},
		{
			name:    "missing column",
			input:   "1,1\n1\n",
			chans:   2,
			wantErr: ErrCalibrationFormat{Line: 2, What: "expected 2 columns, got 1"},
		},
		{
			name:    "not a number",
			input:   "1,x\n",
			chans:   1,
			wantErr: ErrCalibrationFormat{Line: 1, What: `bad LFP factor "x"`},
		},
		{
			name:    "non positive factor",
			input:   "0,1\n",
			chans:   1,
			wantErr: ErrCalibrationFormat{Line: 1, What: "factors must be positive"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCalibration(strings.NewReader(tt.input), tt.chans)
			if diff := cmp.Diff(tt.wantErr, err); diff != "" {
				t.Fatalf("error mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("coefficients mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func writeCalibration(t *testing.T, rows int, row string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gain.csv")
	data := strings.Repeat(row+"\n", rows)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCalibrateFromFile(t *testing.T) {
	src, _ := newTestSource(t, 4)

	if err := src.Calibration.CalibrateFromFile(writeCalibration(t, 4, "1.5,0.5")); err != nil {
		t.Fatal(err)
	}
	status := src.Calibration.Status()
	if status.Source != CalibrationFile || status.Degraded {
		t.Errorf("status: %+v", status)
	}
	if got := src.Calibration.Coefficients()[3]; got != (device.Coefficient{Ap: 1.5, Lfp: 0.5}) {
		t.Errorf("coefficient of channel 3: %+v", got)
	}
	if state := src.sh.State(); state != Connected {
		t.Errorf("state after calibration: %s", state)
	}
}

func TestFailedCalibrationKeepsPreviousTable(t *testing.T) {
	src, dev := newTestSource(t, 4)
	if err := src.Calibration.CalibrateFromDevice(); err != nil {
		t.Fatal(err)
	}
	before := src.Calibration.Coefficients()

	var format ErrCalibrationFormat
	err := src.Calibration.CalibrateFromFile(writeCalibration(t, 3, "2,2"))
	if !errors.As(err, &format) {
		t.Fatalf("got %v, want ErrCalibrationFormat", err)
	}
	if diff := cmp.Diff(before, src.Calibration.Coefficients()); diff != "" {
		t.Errorf("coefficients changed (-before +after):\n%s", diff)
	}
	status := src.Calibration.Status()
	if !status.Degraded || status.Error == "" || status.Source != CalibrationDevice {
		t.Errorf("status: %+v", status)
	}

	dev.FailCalibration(errors.New("eeprom checksum"))
	if err := src.Calibration.CalibrateFromDevice(); err == nil {
		t.Fatal("device calibration must fail")
	}
	if diff := cmp.Diff(before, src.Calibration.Coefficients()); diff != "" {
		t.Errorf("coefficients changed (-before +after):\n%s", diff)
	}
	if state := src.sh.State(); state != Connected {
		t.Errorf("state after failed calibration: %s", state)
	}
}

func TestCalibrationNeedsIdleProbe(t *testing.T) {
	src, _ := newTestSource(t, 4)
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	var wrongState ErrWrongState
	if err := src.Calibration.CalibrateFromDevice(); !errors.As(err, &wrongState) {
		t.Errorf("got %v, want ErrWrongState", err)
	}
}

func TestCalibrationScalesSamples(t *testing.T) {
	src, dev := newTestSource(t, 2)
	dev.SetCalibration([]device.Coefficient{{Ap: 2, Lfp: 1}, {Ap: 1, Lfp: 0.5}})
	if err := src.Calibration.CalibrateFromDevice(); err != nil {
		t.Fatal(err)
	}
	if err := src.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	dev.Feed(testPacket(0, 2, 10, 4))
	waitFor(t, "packet", func() bool { return src.Engine.Stats().Packets == 1 })

	ring, _ := src.Buffer()
	data := make([]float32, testSamples*ring.Width())
	stamps := make([]int64, testSamples)
	if n := ring.Read(data, stamps); n != testSamples {
		t.Fatalf("frames: got %d, want %d", n, testSamples)
	}
	// AP gain 500 and LFP gain 250 give 2.34375 and 4.6875 uV per bit
	want := []float32{10 * 2.34375 * 2, 10 * 2.34375, 4 * 4.6875, 4 * 4.6875 * 0.5}
	for s := 0; s < testSamples; s++ {
		if diff := cmp.Diff(want, data[s*4:(s+1)*4]); diff != "" {
			t.Fatalf("frame %d mismatch (-want +got):\n%s", s, diff)
		}
		if stamps[s] != int64(s) {
			t.Fatalf("timestamp of frame %d: got %d", s, stamps[s])
		}
	}
}
