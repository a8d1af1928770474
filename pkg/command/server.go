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

package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/device/sim"
	"jinr.ru/greenlab/go-npx/pkg/device/udp"
	"jinr.ru/greenlab/go-npx/pkg/log"
	"jinr.ru/greenlab/go-npx/pkg/probe"
	"jinr.ru/greenlab/go-npx/pkg/srv"
	"jinr.ru/greenlab/go-npx/pkg/store"
)

// ErrUnknownTransport returned when device.transport names no known transport
type ErrUnknownTransport struct {
	Name string
}

func (e ErrUnknownTransport) Error() string {
	return fmt.Sprintf("Unknown transport %q. Must be one of: %s, %s",
		e.Name, config.TransportSim, config.TransportUDP)
}

func NewTransport(cfg *config.Config) (ifc.Transport, error) {
	switch cfg.Device.Transport {
	case config.TransportSim:
		return sim.New(sim.ConfigFromSimulator(&cfg.Simulator)), nil
	case config.TransportUDP:
		return udp.New(cfg.Device.Address), nil
	default:
		return nil, ErrUnknownTransport{Name: cfg.Device.Transport}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// StartApiServer serves one probe until interrupted. With connect the link
// is opened before the API starts listening.
func StartApiServer(cfg *config.Config, connect bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	transport, err := NewTransport(cfg)
	if err != nil {
		return err
	}
	source := probe.NewSource(transport, probe.OptionsFromConfig(&cfg.Device))

	var state *store.ProbeState
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return err
		}
		state, err = store.NewProbeState(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer state.Close()
		source.UseStore(state)
	}

	if connect {
		if err := source.Open(ctx); err != nil {
			return err
		}
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Warning("Error while closing probe: %s", err)
		}
	}()

	s, err := srv.NewApiServer(ctx, cfg, source, state)
	if err != nil {
		return err
	}
	return s.Run()
}

// StartSimulator exposes a simulated basestation on addr until interrupted.
// A positive triggerAfter attaches an external trigger line that goes high
// that long after the simulator starts.
func StartSimulator(cfg *config.Config, addr string, triggerAfter time.Duration) error {
	ctx, cancel := signalContext()
	defer cancel()

	simCfg := sim.ConfigFromSimulator(&cfg.Simulator)
	var device ifc.Transport = sim.New(simCfg)
	if triggerAfter > 0 {
		triggered := sim.NewTriggered(simCfg)
		timer := time.AfterFunc(triggerAfter, func() {
			log.Info("Simulated trigger line is high")
			triggered.SetTrigger(true)
		})
		defer timer.Stop()
		device = triggered
	}
	s := sim.NewServer(device)
	if err := s.Listen(addr); err != nil {
		return err
	}
	log.Info("Simulated basestation listening on %s", s.Addr())
	err := s.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
