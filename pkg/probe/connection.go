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
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

// OpenHook runs with the configuration lock held right before the state
// becomes Connected (id != nil) or Disconnected (id == nil).
type OpenHook func(id *device.Identity)

// ConnectionManager owns the link to the basestation.
type ConnectionManager struct {
	sh          *Shared
	transport   ifc.Transport
	openTimeout time.Duration
	// opening and hooks are guarded by sh
	opening bool
	hooks   []OpenHook
}

func NewConnectionManager(sh *Shared, transport ifc.Transport, openTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		sh:          sh,
		transport:   transport,
		openTimeout: openTimeout,
	}
}

func (c *ConnectionManager) AddHook(hook OpenHook) {
	c.sh.Lock()
	defer c.sh.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *ConnectionManager) Transport() ifc.Transport {
	return c.transport
}

// Open establishes the link and reads the identity. The lock is not held
// while talking to the hardware so status queries stay responsive.
func (c *ConnectionManager) Open(ctx context.Context) error {
	c.sh.Lock()
	// a fault without identity is a link that is already gone
	down := c.sh.state == Disconnected || c.sh.state == Fault && c.sh.identity == nil
	if !down || c.opening {
		c.sh.Unlock()
		return nil
	}
	c.opening = true
	c.sh.Unlock()

	identity, err := c.handshake(ctx)

	c.sh.Lock()
	defer c.sh.Unlock()
	c.opening = false
	if err != nil {
		log.Error("Can not open basestation link: %s", err)
		return ErrConnection{Err: err}
	}
	c.sh.identity = identity
	for _, hook := range c.hooks {
		hook(identity)
	}
	c.sh.setState(Connected)
	log.Info("Connected: hw %s bs %d.%d api %s asic %s option %d channels %d",
		identity.HardwareVersion, identity.BsVersion, identity.BsRevision,
		identity.ApiVersion, identity.Serial(), identity.Option, identity.TotalChans)
	return nil
}

func (c *ConnectionManager) handshake(ctx context.Context) (*device.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.openTimeout)
	defer cancel()

	var identity *device.Identity
	op := func() error {
		if err := c.transport.OpenLink(ctx); err != nil {
			log.Debug("Open link attempt failed: %s", err)
			return err
		}
		id, err := c.transport.QueryIdentity()
		if err != nil {
			c.transport.CloseLink()
			return err
		}
		if id.TotalChans <= 0 {
			c.transport.CloseLink()
			return backoff.Permanent(errors.New("basestation reports no channels"))
		}
		identity = id
		return nil
	}

	// the basestation drops connections that are opened too eagerly
	err := backoff.Retry(op, backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      c.openTimeout,
		Clock:               backoff.SystemClock,
	}, ctx))
	if err != nil {
		if ctx.Err() != nil && identity == nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return identity, nil
}

// Close tears the link down from any state. Closing twice is a no-op.
func (c *ConnectionManager) Close() error {
	c.sh.Lock()
	defer c.sh.Unlock()
	return c.closeLocked()
}

func (c *ConnectionManager) closeLocked() error {
	if c.sh.state == Disconnected && c.sh.identity == nil {
		return nil
	}
	err := c.transport.CloseLink()
	if err != nil {
		log.Warning("Error while closing basestation link: %s", err)
	}
	c.sh.identity = nil
	for _, hook := range c.hooks {
		hook(nil)
	}
	c.sh.setState(Disconnected)
	log.Info("Disconnected")
	return err
}

// IsAvailable never blocks.
func (c *ConnectionManager) IsAvailable() bool {
	return c.sh.available.Load()
}

func (c *ConnectionManager) Identity() (device.Identity, error) {
	c.sh.Lock()
	defer c.sh.Unlock()
	if c.sh.identity == nil {
		return device.Identity{}, ErrNotConnected{Op: "get identity"}
	}
	return *c.sh.identity, nil
}

func (c *ConnectionManager) ProbeOption() (int, error) {
	id, err := c.Identity()
	if err != nil {
		return 0, err
	}
	return int(id.Option), nil
}

// dispatch must be called with the lock held.
func (c *ConnectionManager) dispatch(channel int, field device.Field, value int) error {
	log.Debug("Write setting: channel %d %s = %d", channel, field, value)
	return c.transport.WriteChannelSetting(channel, field, value)
}
