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

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"jinr.ru/greenlab/go-npx/pkg/log"
	"jinr.ru/greenlab/go-npx/pkg/probe"
)

const (
	monitorInterval   = 50 * time.Millisecond
	monitorBatch      = 4096
	defaultDecimation = 30
	defaultChannels   = 16
)

// Frames is one monitor message: every decimation-th frame of the ring,
// cut to the first channels of the frame.
type Frames struct {
	State      probe.State   `json:"state"`
	Samples    uint64        `json:"samples"`
	Timestamps []int64       `json:"timestamps"`
	Values     [][]float32   `json:"values"`
	Events     []probe.Event `json:"events,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
}

// handleMonitor attaches a websocket client as the consumer of the sample
// ring. Only one client can be attached at a time.
func (s *ApiServer) handleMonitor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decimation := queryInt(r, "decimation", defaultDecimation)
		channels := queryInt(r, "channels", defaultChannels)
		if decimation < 1 || channels < 1 {
			http.Error(w, "decimation and channels must be positive", http.StatusBadRequest)
			return
		}
		if !s.monitor.CompareAndSwap(false, true) {
			fail(w, ErrMonitorBusy{})
			return
		}
		defer s.monitor.Store(false)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Monitor upgrade failed: %s", err)
			return
		}
		defer conn.Close()
		log.Info("Monitor attached: %s", r.RemoteAddr)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		m := &monitor{decimation: decimation, channels: channels}
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.Context.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
				return
			case <-closed:
				log.Info("Monitor detached: %s", r.RemoteAddr)
				return
			case <-ticker.C:
				if !s.src.UpdateBuffer() {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "acquisition fault"))
					return
				}
				msg := m.drain(s.src)
				if msg == nil {
					continue
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("Monitor write failed: %s", err)
					return
				}
			}
		}
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// monitor drains the ring and keeps the decimation phase between drains
type monitor struct {
	decimation int
	channels   int
	phase      int
	data       []float32
	stamps     []int64
	events     []probe.Event
}

func (m *monitor) drain(src *probe.Source) *Frames {
	ring, events := src.Buffer()
	if ring == nil {
		return nil
	}
	width := ring.Width()
	if len(m.stamps) != monitorBatch || len(m.data) != monitorBatch*width {
		m.stamps = make([]int64, monitorBatch)
		m.data = make([]float32, monitorBatch*width)
		m.events = make([]probe.Event, 256)
	}
	channels := m.channels
	if channels > width {
		channels = width
	}

	msg := &Frames{}
	for {
		n := ring.Read(m.data, m.stamps)
		for i := 0; i < n; i++ {
			if m.phase == 0 {
				row := make([]float32, channels)
				copy(row, m.data[i*width:i*width+channels])
				msg.Values = append(msg.Values, row)
				msg.Timestamps = append(msg.Timestamps, m.stamps[i])
			}
			m.phase = (m.phase + 1) % m.decimation
		}
		if n < monitorBatch {
			break
		}
	}
	if events != nil {
		for {
			n := events.Read(m.events)
			msg.Events = append(msg.Events, m.events[:n]...)
			if n < len(m.events) {
				break
			}
		}
	}
	if len(msg.Timestamps) == 0 && len(msg.Events) == 0 {
		return nil
	}
	status := src.Status()
	msg.State = status.State
	msg.Samples = status.Stats.Samples
	return msg
}
