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
	"sync"
	"sync/atomic"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

type State int

const (
	Disconnected State = iota
	Connected
	Configuring
	Armed
	Acquiring
	Stopping
	Fault
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connected:    "connected",
	Configuring:  "configuring",
	Armed:        "armed",
	Acquiring:    "acquiring",
	Stopping:     "stopping",
	Fault:        "fault",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets the state appear by name in JSON status documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Shared holds everything the control side and the acquisition goroutine
// both touch. All fields are guarded by the embedded mutex.
type Shared struct {
	sync.Mutex

	// state is written by the control side; the acquisition goroutine only
	// moves Armed to Acquiring and anything to Fault.
	state State
	// identity is written by ConnectionManager on open and close.
	identity *device.Identity
	// counter is written by the acquisition goroutine and reset by Start.
	counter uint64

	// available mirrors the connectivity for lock-free readers.
	available atomic.Bool
}

func NewShared() *Shared {
	return &Shared{state: Disconnected}
}

// State returns the current acquisition state.
func (sh *Shared) State() State {
	sh.Lock()
	defer sh.Unlock()
	return sh.state
}

// setState must be called with the lock held.
func (sh *Shared) setState(s State) {
	sh.state = s
	sh.available.Store(s != Disconnected && s != Fault)
}

// totalChans must be called with the lock held.
func (sh *Shared) totalChans() int {
	if sh.identity == nil {
		return 0
	}
	return sh.identity.TotalChans
}
