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
	"sync/atomic"
)

// Ring is a single-producer single-consumer buffer of fixed-width frames.
// head and tail count frames since creation; the producer only stores head
// and the consumer only stores tail, so neither side waits for the other.
type Ring struct {
	width      int
	size       uint64
	data       []float32
	timestamps []int64
	head       atomic.Uint64
	tail       atomic.Uint64
	overflows  atomic.Uint64
}

func NewRing(frames, width int) *Ring {
	if frames < 1 {
		frames = 1
	}
	return &Ring{
		width:      width,
		size:       uint64(frames),
		data:       make([]float32, frames*width),
		timestamps: make([]int64, frames),
	}
}

// Width is the number of values per frame.
func (r *Ring) Width() int {
	return r.width
}

func (r *Ring) Capacity() int {
	return int(r.size)
}

// Available is the number of frames ready for the consumer.
func (r *Ring) Available() int {
	return int(r.head.Load() - r.tail.Load())
}

func (r *Ring) Overflows() uint64 {
	return r.overflows.Load()
}

// Write appends n frames. A block that does not fit is dropped whole and
// counted as an overflow; Write never blocks.
func (r *Ring) Write(data []float32, timestamps []int64, n int) bool {
	head := r.head.Load()
	free := r.size - (head - r.tail.Load())
	if uint64(n) > free {
		r.overflows.Add(1)
		return false
	}
	for i := 0; i < n; i++ {
		slot := (head + uint64(i)) % r.size
		copy(r.data[int(slot)*r.width:int(slot+1)*r.width], data[i*r.width:(i+1)*r.width])
		r.timestamps[slot] = timestamps[i]
	}
	r.head.Store(head + uint64(n))
	return true
}

// Read moves up to len(timestamps) frames into data and timestamps and
// returns how many were copied. data must hold len(timestamps)*Width values.
func (r *Ring) Read(data []float32, timestamps []int64) int {
	tail := r.tail.Load()
	n := int(r.head.Load() - tail)
	if n > len(timestamps) {
		n = len(timestamps)
	}
	for i := 0; i < n; i++ {
		slot := (tail + uint64(i)) % r.size
		copy(data[i*r.width:(i+1)*r.width], r.data[int(slot)*r.width:int(slot+1)*r.width])
		timestamps[i] = r.timestamps[slot]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// Event is the digital event word of one packet, stamped with the extended
// hardware counter of its first sample.
type Event struct {
	Timestamp int64  `json:"timestamp"`
	Word      uint16 `json:"word"`
}

// EventRing is the single-producer single-consumer event stream.
type EventRing struct {
	size      uint64
	events    []Event
	head      atomic.Uint64
	tail      atomic.Uint64
	overflows atomic.Uint64
}

func NewEventRing(size int) *EventRing {
	if size < 1 {
		size = 1
	}
	return &EventRing{size: uint64(size), events: make([]Event, size)}
}

func (r *EventRing) Write(ev Event) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= r.size {
		r.overflows.Add(1)
		return false
	}
	r.events[head%r.size] = ev
	r.head.Store(head + 1)
	return true
}

func (r *EventRing) Read(dst []Event) int {
	tail := r.tail.Load()
	n := int(r.head.Load() - tail)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = r.events[(tail+uint64(i))%r.size]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

func (r *EventRing) Available() int {
	return int(r.head.Load() - r.tail.Load())
}
