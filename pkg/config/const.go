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

import "time"

const (
	ConfigDir  = ".go-npx"
	ConfigFile = "config"
	DBFile     = "npx.db"
	EnvPrefix  = "NPX_"

	DefaultLogLevel   = "info"
	DefaultApiAddress = "127.0.0.1"
	DefaultApiPort    = 8010

	TransportSim = "sim"
	TransportUDP = "udp"

	DefaultTransport           = TransportSim
	DefaultDeviceAddress       = "10.2.0.1:9000"
	DefaultOpenTimeout         = 3 * time.Second
	DefaultPullTimeout         = 100 * time.Millisecond
	DefaultFaultThreshold      = 20
	DefaultTriggerPollInterval = 100 * time.Millisecond
	DefaultTriggerDelay        = 5 * time.Second
	DefaultRecordDir           = "."
	DefaultRingFrames          = 30000 * 10

	DefaultSimOption        = 3
	DefaultSimTotalChans    = 384
	DefaultSimPacketSamples = 12
	DefaultSimSerial        = 0x0c0ffee
)
