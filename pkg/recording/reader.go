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

package recording

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/layers"
)

// Reader iterates over the packets of a recording.
type Reader struct {
	r     *bufio.Reader
	frame []byte
	n     int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next packet or io.EOF at the end of the recording.
func (r *Reader) Next() (*device.Packet, error) {
	header := make([]byte, layers.LinkHeaderSize)
	if _, err := io.ReadFull(r.r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("frame %d: truncated header", r.n)
		}
		return nil, err
	}
	size := layers.LinkHeaderSize + int(binary.LittleEndian.Uint16(header[6:8])) + 4
	if cap(r.frame) < size {
		r.frame = make([]byte, size)
	}
	frame := r.frame[:size]
	copy(frame, header)
	if _, err := io.ReadFull(r.r, frame[layers.LinkHeaderSize:]); err != nil {
		return nil, fmt.Errorf("frame %d: %w", r.n, err)
	}
	packet, _, err := layers.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", r.n, err)
	}
	r.n++
	pl, ok := packet.Layer(layers.PacketLayerType).(*layers.PacketLayer)
	if !ok {
		return nil, fmt.Errorf("frame %d: not a packet frame", r.n-1)
	}
	p := pl.Packet
	return &p, nil
}

// ReadFile loads every packet of a recording.
func ReadFile(path string) ([]*device.Packet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := NewReader(file)
	var packets []*device.Packet
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
	}
}
