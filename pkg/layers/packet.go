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

package layers

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

const (
	// PacketLayerNum identifies the layer
	PacketLayerNum = 2006
	// PacketHeaderSize is counter(4) event(2) samples(2) lfp samples(2) chans(2)
	PacketHeaderSize = 12
)

// PacketLayer is one electrode packet: the header followed by AP samples
// and LFP samples as little endian int16, sample-major.
type PacketLayer struct {
	layers.BaseLayer
	device.Packet
}

var PacketLayerType = gopacket.RegisterLayerType(PacketLayerNum,
	gopacket.LayerTypeMetadata{Name: "PacketLayerType", Decoder: gopacket.DecodeFunc(DecodePacketLayer)})

func (p *PacketLayer) LayerType() gopacket.LayerType {
	return PacketLayerType
}

func (p *PacketLayer) Size() int {
	return PacketHeaderSize + 2*(len(p.Ap)+len(p.Lfp))
}

func (p *PacketLayer) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Counter)
	binary.LittleEndian.PutUint16(buf[4:6], p.Event)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(p.Samples))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(p.LfpSamples))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(p.Chans))
	off := PacketHeaderSize
	for _, v := range p.Ap {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(v))
		off += 2
	}
	for _, v := range p.Lfp {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(v))
		off += 2
	}
}

func (p *PacketLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(p.Size())
	if err != nil {
		return err
	}
	p.Serialize(bytes)
	return nil
}

func (p *PacketLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < PacketHeaderSize {
		df.SetTruncated()
		return errors.New("Packet too short")
	}
	p.Counter = binary.LittleEndian.Uint32(data[0:4])
	p.Event = binary.LittleEndian.Uint16(data[4:6])
	p.Samples = int(binary.LittleEndian.Uint16(data[6:8]))
	p.LfpSamples = int(binary.LittleEndian.Uint16(data[8:10]))
	p.Chans = int(binary.LittleEndian.Uint16(data[10:12]))

	nAp := p.Samples * p.Chans
	nLfp := p.LfpSamples * p.Chans
	size := PacketHeaderSize + 2*(nAp+nLfp)
	if len(data) < size {
		df.SetTruncated()
		return errors.New("Packet samples truncated")
	}
	p.BaseLayer = layers.BaseLayer{Contents: data[:size], Payload: []byte{}}
	p.Ap = make([]int16, nAp)
	p.Lfp = make([]int16, nLfp)
	off := PacketHeaderSize
	for i := range p.Ap {
		p.Ap[i] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
	}
	for i := range p.Lfp {
		p.Lfp[i] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
	}
	return nil
}

func DecodePacketLayer(data []byte, p gopacket.PacketBuilder) error {
	pl := &PacketLayer{}
	err := pl.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(pl)
	return nil
}
