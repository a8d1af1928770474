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

// Request bodies of the settings endpoints. Transmit writes the change to
// the hardware at once when the probe is idle; otherwise it is queued.

type ChannelValue struct {
	Channel  int  `json:"channel"`
	Value    int  `json:"value"`
	Transmit bool `json:"transmit"`
}

type Gain struct {
	Channel  int  `json:"channel"`
	Ap       int  `json:"ap"`
	Lfp      int  `json:"lfp"`
	Transmit bool `json:"transmit"`
}

// AllGains sets the AP and/or LFP gain of every channel; zero leaves the
// band unchanged.
type AllGains struct {
	Ap       int  `json:"ap,omitempty"`
	Lfp      int  `json:"lfp,omitempty"`
	Transmit bool `json:"transmit"`
}

type References struct {
	Reference int  `json:"reference"`
	Bank      int  `json:"bank"`
	Transmit  bool `json:"transmit"`
}

type Filter struct {
	Filter   int  `json:"filter"`
	Transmit bool `json:"transmit"`
}

type Output struct {
	Channel int  `json:"channel"`
	On      bool `json:"on"`
}

type Switch struct {
	On bool `json:"on"`
}

// Bands toggles the AP and LFP streams; a missing field is left unchanged.
type Bands struct {
	Ap  *bool `json:"ap,omitempty"`
	Lfp *bool `json:"lfp,omitempty"`
}

type CalibrationFile struct {
	Path string `json:"path"`
}

type BitVolts struct {
	Index    int     `json:"index"`
	BitVolts float64 `json:"bit_volts"`
}
