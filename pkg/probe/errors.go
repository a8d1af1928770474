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
	"fmt"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

// ErrConnection returned when the link can not be established or the
// identity query fails. Retrying Open may succeed.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Sprintf("Error while connecting to basestation: %s", e.Err)
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrNotConnected returned when an operation needs an open link
type ErrNotConnected struct {
	Op string
}

func (e ErrNotConnected) Error() string {
	return fmt.Sprintf("Can not %s: basestation is not connected", e.Op)
}

// ErrWrongState returned when an operation is not allowed in the current state
type ErrWrongState struct {
	Op    string
	State State
}

func (e ErrWrongState) Error() string {
	return fmt.Sprintf("Can not %s in state %s", e.Op, e.State)
}

// ErrOutOfRange returned when a channel index is not in 0..Total-1
type ErrOutOfRange struct {
	Channel int
	Total   int
}

func (e ErrOutOfRange) Error() string {
	return fmt.Sprintf("Channel %d is out of range [0, %d)", e.Channel, e.Total)
}

// ErrInvalidSetting returned when a value is not accepted by the hardware
type ErrInvalidSetting struct {
	Field device.Field
	Value int
}

func (e ErrInvalidSetting) Error() string {
	return fmt.Sprintf("Invalid %s setting: %d", e.Field, e.Value)
}

// ErrCalibrationFormat returned when a calibration table can not be used.
// Line is 0 when the problem is not bound to a single row.
type ErrCalibrationFormat struct {
	Line int
	What string
}

func (e ErrCalibrationFormat) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Malformed calibration table at line %d: %s", e.Line, e.What)
	}
	return fmt.Sprintf("Malformed calibration table: %s", e.What)
}

// ErrPacketGap describes a discontinuity of the hardware counter. Gaps are
// recorded and logged, never returned to the host.
type ErrPacketGap struct {
	Expected uint32
	Got      uint32
	Lost     uint32
}

func (e ErrPacketGap) Error() string {
	return fmt.Sprintf("Packet gap: expected counter %d got %d (%d samples lost)", e.Expected, e.Got, e.Lost)
}

// ErrTransportFault is the reason the engine entered the fault state
type ErrTransportFault struct {
	Timeouts int
	Err      error
}

func (e ErrTransportFault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Transport fault: %s", e.Err)
	}
	return fmt.Sprintf("Transport fault: %d consecutive pull timeouts", e.Timeouts)
}

func (e ErrTransportFault) Unwrap() error {
	return e.Err
}

// ErrNoOutputs returned by Start when no channel would reach the host
type ErrNoOutputs struct{}

func (e ErrNoOutputs) Error() string {
	return "No output-enabled channels: enable a channel and the AP or LFP stream"
}
