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

package layers

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

func TestFrameDecode(t *testing.T) {
	identity := device.Identity{
		HardwareVersion: device.Version{Major: 2, Minor: 0},
		BsVersion:       2,
		BsRevision:      1,
		ApiVersion:      device.Version{Major: 4, Minor: 1},
		Asic:            device.AsicID{SerialNumber: 0x0c0ffee, ProbeType: 3},
		Option:          3,
		NumRefs:         11,
		TotalChans:      384,
		AuxChans:        3,
		AdcChans:        16,
	}
	packet := device.Packet{
		Counter:    1 << 31,
		Event:      0x8001,
		Samples:    2,
		LfpSamples: 1,
		Chans:      3,
		Ap:         []int16{1, -2, 3, -32768, 32767, 0},
		Lfp:        []int16{-7, 8, 9},
	}

	tests := []struct {
		name    string
		typ     LinkType
		payload PayloadLayer
		check   func(t *testing.T, got interface{})
	}{
		{
			name:    "command",
			typ:     LinkTypeCommand,
			payload: &CommandLayer{Code: CodeTrigger, Arg: 1},
			check: func(t *testing.T, got interface{}) {
				cmd := got.(*CommandLayer)
				if cmd.Code != CodeTrigger || cmd.Arg != 1 {
					t.Errorf("command: %s %d", cmd.Code, cmd.Arg)
				}
			},
		},
		{
			name:    "identity",
			typ:     LinkTypeIdentity,
			payload: &IdentityLayer{Identity: identity},
			check: func(t *testing.T, got interface{}) {
				if diff := cmp.Diff(identity, got.(*IdentityLayer).Identity); diff != "" {
					t.Errorf("identity mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "global setting",
			typ:     LinkTypeSetting,
			payload: &SettingLayer{Channel: -1, Field: device.FieldFilter, Value: 2},
			check: func(t *testing.T, got interface{}) {
				s := got.(*SettingLayer)
				if s.Channel != -1 || s.Field != device.FieldFilter || s.Value != 2 {
					t.Errorf("setting: %d %s %d", s.Channel, s.Field, s.Value)
				}
			},
		},
		{
			name:    "calibration",
			typ:     LinkTypeCalibration,
			payload: &CalibrationLayer{Coefficients: []device.Coefficient{{Ap: 1.5, Lfp: 0.25}, {Ap: 1, Lfp: 2}}},
			check: func(t *testing.T, got interface{}) {
				want := []device.Coefficient{{Ap: 1.5, Lfp: 0.25}, {Ap: 1, Lfp: 2}}
				if diff := cmp.Diff(want, got.(*CalibrationLayer).Coefficients); diff != "" {
					t.Errorf("coefficients mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "packet",
			typ:     LinkTypePacket,
			payload: &PacketLayer{Packet: packet},
			check: func(t *testing.T, got interface{}) {
				if diff := cmp.Diff(packet, got.(*PacketLayer).Packet); diff != "" {
					t.Errorf("packet mismatch (-want +got):\n%s", diff)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Frame(tt.typ, 7, StatusOK, tt.payload)
			if err != nil {
				t.Fatal(err)
			}
			if want := LinkHeaderSize + tt.payload.Size() + 4; len(frame) != want {
				t.Fatalf("frame size: got %d, want %d", len(frame), want)
			}
			p, link, err := Decode(frame)
			if err != nil {
				t.Fatal(err)
			}
			if link.Type != tt.typ || link.Seq != 7 || link.Status != StatusOK {
				t.Errorf("header: %+v", link.LinkHeader)
			}
			got := p.Layer(tt.payload.LayerType())
			if got == nil {
				t.Fatalf("no %s layer in %s", tt.payload.LayerType(), p)
			}
			tt.check(t, got)
		})
	}
}

func TestFrameWithoutPayload(t *testing.T) {
	frame, err := Frame(LinkTypeAck, 1, StatusBusy, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, link, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if link.Len != 0 || link.Status != StatusBusy {
		t.Errorf("header: %+v", link.LinkHeader)
	}
}

func TestDecodeRejectsDamagedFrames(t *testing.T) {
	frame, err := Frame(LinkTypeSetting, 3, StatusOK, &SettingLayer{Channel: 5, Field: device.FieldApGain, Value: 1000})
	if err != nil {
		t.Fatal(err)
	}
	damage := map[string]func([]byte) []byte{
		"flipped payload bit": func(b []byte) []byte {
			b[LinkHeaderSize+4] ^= 0x01
			return b
		},
		"flipped header bit": func(b []byte) []byte {
			b[4] ^= 0x80
			return b
		},
		"wrong sync": func(b []byte) []byte {
			b[2] = 0
			return b
		},
		"truncated": func(b []byte) []byte {
			return b[:len(b)-3]
		},
		"too short": func(b []byte) []byte {
			return b[:5]
		},
	}
	for name, fn := range damage {
		t.Run(name, func(t *testing.T) {
			data := fn(append([]byte(nil), frame...))
			if _, _, err := Decode(data); err == nil {
				t.Error("damaged frame decoded")
			}
		})
	}
}

func TestFrameTooLarge(t *testing.T) {
	big := device.Packet{Samples: 1, Chans: LinkMaxPayloadSize, Ap: make([]int16, LinkMaxPayloadSize)}
	if _, err := Frame(LinkTypePacket, 0, StatusOK, &PacketLayer{Packet: big}); err == nil {
		t.Error("oversized payload framed")
	}
}
