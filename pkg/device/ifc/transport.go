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

package ifc

import (
	"context"
	"errors"
	"time"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

// ErrPullTimeout is returned by PullPacket when no packet arrived in time.
// It is transient; any other PullPacket error is a transport fault.
var ErrPullTimeout = errors.New("packet pull timed out")

// Transport is the basestation link. Apart from PullPacket, which is only
// called by the acquisition goroutine, methods are called from the control
// side with the configuration lock held.
type Transport interface {
	OpenLink(ctx context.Context) error
	CloseLink() error

	QueryIdentity() (*device.Identity, error)
	WriteChannelSetting(channel int, field device.Field, value int) error
	ReadCalibration() ([]device.Coefficient, error)

	StartStreaming() error
	StopStreaming() error
	PullPacket(timeout time.Duration) (*device.Packet, error)

	StartRecordingSink(path string) (Sink, error)
	StopRecordingSink() error
}

// Sink receives every packet accepted while recording is active.
type Sink interface {
	WritePacket(p *device.Packet) error
}

// TriggerSource is implemented by transports that can report an external
// trigger line.
type TriggerSource interface {
	TriggerArmed() (bool, error)
}
