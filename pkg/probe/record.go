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
	"path/filepath"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

type RecordStatus struct {
	Desired bool   `json:"desired"`
	Active  bool   `json:"active"`
	Number  int    `json:"number"`
	Path    string `json:"path,omitempty"`
	Packets uint64 `json:"packets"`
}

// RecordModeGate mirrors accepted packets to the transport's native
// recording sink. The requested mode only takes effect when an acquisition
// is armed, so a recording always covers a whole acquisition.
type RecordModeGate struct {
	sh   *Shared
	conn *ConnectionManager
	dir  string

	// guarded by sh
	desired bool
	sink    ifc.Sink
	number  int
	path    string
	packets uint64
}

func NewRecordModeGate(sh *Shared, conn *ConnectionManager, dir string) *RecordModeGate {
	g := &RecordModeGate{sh: sh, conn: conn, dir: dir}
	conn.AddHook(g.reset)
	return g
}

func (g *RecordModeGate) reset(id *device.Identity) {
	if id == nil {
		g.disarmLocked()
		g.desired = false
	}
}

func (g *RecordModeGate) SetRecordMode(on bool) error {
	g.sh.Lock()
	defer g.sh.Unlock()
	if g.sh.identity == nil {
		return ErrNotConnected{Op: "set record mode"}
	}
	g.desired = on
	if g.sh.state == Acquiring || g.sh.state == Armed {
		log.Info("Record mode %t takes effect at the next start", on)
	}
	return nil
}

func (g *RecordModeGate) Status() RecordStatus {
	g.sh.Lock()
	defer g.sh.Unlock()
	return RecordStatus{
		Desired: g.desired,
		Active:  g.sink != nil,
		Number:  g.number,
		Path:    g.path,
		Packets: g.packets,
	}
}

// armLocked opens a new recording if one is requested.
func (g *RecordModeGate) armLocked() error {
	if !g.desired {
		return nil
	}
	g.disarmLocked()
	path := filepath.Join(g.dir, fmt.Sprintf("recording_%d.npx", g.number+1))
	sink, err := g.conn.Transport().StartRecordingSink(path)
	if err != nil {
		return fmt.Errorf("start recording %s: %w", path, err)
	}
	g.number++
	g.sink = sink
	g.path = path
	g.packets = 0
	log.Info("Recording to %s", path)
	return nil
}

func (g *RecordModeGate) writeLocked(p *device.Packet, stats *Stats) {
	if g.sink == nil {
		return
	}
	if err := g.sink.WritePacket(p); err != nil {
		stats.RecordErrors++
		log.Error("Recording to %s stopped: %s", g.path, err)
		g.disarmLocked()
		return
	}
	g.packets++
}

func (g *RecordModeGate) disarmLocked() {
	if g.sink == nil {
		return
	}
	if err := g.conn.Transport().StopRecordingSink(); err != nil {
		log.Warning("Error while closing recording %s: %s", g.path, err)
	}
	g.sink = nil
	log.Info("Recording %d closed: %d packets", g.number, g.packets)
}
