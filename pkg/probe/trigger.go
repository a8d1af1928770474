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
	"context"
	"fmt"
	"time"

	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

type TriggerState int

const (
	TriggerInternal TriggerState = iota
	TriggerWaiting
	TriggerArmed
)

var triggerStateNames = map[TriggerState]string{
	TriggerInternal: "internal",
	TriggerWaiting:  "waiting_for_arm",
	TriggerArmed:    "armed",
}

func (s TriggerState) String() string {
	if name, ok := triggerStateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s TriggerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TriggerState) UnmarshalText(text []byte) error {
	for state, name := range triggerStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown trigger state %q", text)
}

// TriggerController holds an armed acquisition until the external trigger
// line is up. Without a trigger line on the transport it falls back to
// starting after a fixed delay.
type TriggerController struct {
	sh       *Shared
	conn     *ConnectionManager
	interval time.Duration
	delay    time.Duration
	now      func() time.Time

	// guarded by sh
	state   TriggerState
	armedAt time.Time
	onArm   func()
	cancel  context.CancelFunc
}

func NewTriggerController(sh *Shared, conn *ConnectionManager, interval, delay time.Duration) *TriggerController {
	return &TriggerController{
		sh:       sh,
		conn:     conn,
		interval: interval,
		delay:    delay,
		now:      time.Now,
		state:    TriggerInternal,
	}
}

// SetTriggerMode switches between internal and external triggering.
// Leaving external mode while an acquisition is armed starts it at once.
func (c *TriggerController) SetTriggerMode(external bool) {
	c.sh.Lock()
	if external {
		if c.state == TriggerInternal {
			c.state = TriggerWaiting
		}
		c.sh.Unlock()
		log.Info("Trigger mode: external")
		return
	}
	c.state = TriggerInternal
	fire := c.onArm
	c.stopLocked()
	c.sh.Unlock()
	log.Info("Trigger mode: internal")
	if fire != nil {
		fire()
	}
}

func (c *TriggerController) State() TriggerState {
	c.sh.Lock()
	defer c.sh.Unlock()
	return c.state
}

func (c *TriggerController) External() bool {
	c.sh.Lock()
	defer c.sh.Unlock()
	return c.externalLocked()
}

func (c *TriggerController) externalLocked() bool {
	return c.state != TriggerInternal
}

// armLocked starts polling the arm condition; onArm runs once it holds.
func (c *TriggerController) armLocked(onArm func()) {
	c.stopLocked()
	c.state = TriggerWaiting
	c.armedAt = c.now()
	c.onArm = onArm
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

func (c *TriggerController) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Tick() {
				return
			}
		}
	}
}

// Tick checks the arm condition once. It returns true when there is nothing
// left to wait for.
func (c *TriggerController) Tick() bool {
	c.sh.Lock()
	if c.state != TriggerWaiting || c.onArm == nil {
		c.sh.Unlock()
		return true
	}
	if !c.conditionLocked() {
		c.sh.Unlock()
		return false
	}
	c.state = TriggerArmed
	fire := c.onArm
	c.stopLocked()
	c.sh.Unlock()
	fire()
	return true
}

func (c *TriggerController) conditionLocked() bool {
	if src, ok := c.conn.Transport().(ifc.TriggerSource); ok {
		armed, err := src.TriggerArmed()
		if err != nil {
			log.Warning("Can not read trigger line: %s", err)
			return false
		}
		return armed
	}
	return c.now().Sub(c.armedAt) >= c.delay
}

func (c *TriggerController) stopLocked() {
	c.onArm = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// disarmLocked drops a pending arm. External mode stays selected for the
// next start.
func (c *TriggerController) disarmLocked() {
	c.stopLocked()
	if c.state == TriggerArmed {
		c.state = TriggerWaiting
	}
}
