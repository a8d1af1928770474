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

package device

import (
	"fmt"
)

const (
	SampleRate    = 30000.0
	LfpSampleRate = 2500.0

	// ReferenceVoltage is in microvolts, so bit volts come out in uV.
	ReferenceVoltage = 1.2e6
	AdcResolution    = 1024

	ElectrodeDisconnected = 0xFF

	DefaultApGain  = 500
	DefaultLfpGain = 250
)

// Field identifies a hardware setting of a channel. Global fields ignore the
// channel number.
type Field uint8

const (
	FieldElectrode Field = iota
	FieldReference
	FieldApGain
	FieldLfpGain
	FieldFilter
	FieldReferenceBank
)

var fieldNames = map[Field]string{
	FieldElectrode:     "electrode",
	FieldReference:     "reference",
	FieldApGain:        "ap_gain",
	FieldLfpGain:       "lfp_gain",
	FieldFilter:        "filter",
	FieldReferenceBank: "reference_bank",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// Global reports whether the field is a device-wide setting.
func (f Field) Global() bool {
	return f == FieldFilter || f == FieldReferenceBank
}

// Gains is the enumeration of amplifier gains accepted by the ASIC.
var Gains = []int{50, 125, 250, 500, 1000, 1500, 2000, 3000}

// Filters is the enumeration of AP high-pass filter settings.
var Filters = []int{0, 1, 2, 3}

func ValidGain(gain int) bool {
	for _, g := range Gains {
		if g == gain {
			return true
		}
	}
	return false
}

func ValidFilter(filter int) bool {
	for _, f := range Filters {
		if f == filter {
			return true
		}
	}
	return false
}

type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

type AsicID struct {
	SerialNumber uint64 `json:"serial_number"`
	ProbeType    uint8  `json:"probe_type"`
}

// Identity describes the connected basestation and probe.
type Identity struct {
	HardwareVersion Version `json:"hardware_version"`
	BsVersion       uint8   `json:"bs_version"`
	BsRevision      uint8   `json:"bs_revision"`
	ApiVersion      Version `json:"api_version"`
	Asic            AsicID  `json:"asic"`
	Option          uint8   `json:"option"`
	NumRefs         int     `json:"num_refs"`
	TotalChans      int     `json:"total_chans"`
	AuxChans        int     `json:"aux_chans"`
	AdcChans        int     `json:"adc_chans"`
}

// Banks is the number of electrode banks a channel can be connected to.
func (id *Identity) Banks() int {
	switch id.Option {
	case 3:
		return 3
	case 4:
		return 4
	default:
		return 1
	}
}

func (id *Identity) Serial() string {
	return fmt.Sprintf("%016x", id.Asic.SerialNumber)
}

// Packet is one electrode packet: Samples AP samples and LfpSamples LFP
// samples for every channel, sample-major.
type Packet struct {
	Counter    uint32
	Event      uint16
	Samples    int
	LfpSamples int
	Chans      int
	Ap         []int16
	Lfp        []int16
}

func (p *Packet) ApSample(sample, ch int) int16 {
	return p.Ap[sample*p.Chans+ch]
}

func (p *Packet) LfpSample(sample, ch int) int16 {
	return p.Lfp[sample*p.Chans+ch]
}

// Valid checks the data slices match the declared sizes.
func (p *Packet) Valid() bool {
	return p.Samples > 0 && p.Chans > 0 &&
		len(p.Ap) == p.Samples*p.Chans &&
		len(p.Lfp) == p.LfpSamples*p.Chans
}

// Coefficient is the gain correction of one channel.
type Coefficient struct {
	Ap  float64 `json:"ap"`
	Lfp float64 `json:"lfp"`
}
