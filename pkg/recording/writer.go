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
	"os"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/layers"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

// Writer stores packets as a sequence of link frames, the same encoding
// the basestation uses on the wire.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	seq  uint16
	path string
}

func NewWriter(filename string) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		log.Error("Error while creating file: %s", filename)
		return nil, err
	}
	return &Writer{
		file: file,
		buf:  bufio.NewWriterSize(file, 1<<20),
		path: filename,
	}, nil
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) WritePacket(p *device.Packet) error {
	frame, err := layers.Frame(layers.LinkTypePacket, w.seq, layers.StatusOK, &layers.PacketLayer{Packet: *p})
	if err != nil {
		return err
	}
	w.seq++
	_, err = w.buf.Write(frame)
	return err
}

// Close flushes buffered frames and closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
