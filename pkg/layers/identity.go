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
	// IdentityLayerNum identifies the layer
	IdentityLayerNum = 2003
	IdentitySize     = 24
)

// IdentityLayer is the basestation reply to CodeIdentity
type IdentityLayer struct {
	layers.BaseLayer
	device.Identity
}

var IdentityLayerType = gopacket.RegisterLayerType(IdentityLayerNum,
	gopacket.LayerTypeMetadata{Name: "IdentityLayerType", Decoder: gopacket.DecodeFunc(DecodeIdentityLayer)})

func (id *IdentityLayer) LayerType() gopacket.LayerType {
	return IdentityLayerType
}

func (id *IdentityLayer) Size() int {
	return IdentitySize
}

func (id *IdentityLayer) Serialize(buf []byte) {
	buf[0] = uint8(id.HardwareVersion.Major)
	buf[1] = uint8(id.HardwareVersion.Minor)
	buf[2] = id.BsVersion
	buf[3] = id.BsRevision
	buf[4] = uint8(id.ApiVersion.Major)
	buf[5] = uint8(id.ApiVersion.Minor)
	buf[6] = id.Asic.ProbeType
	buf[7] = id.Option
	binary.LittleEndian.PutUint64(buf[8:16], id.Asic.SerialNumber)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(id.NumRefs))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(id.TotalChans))
	binary.LittleEndian.PutUint16(buf[20:22], uint16(id.AuxChans))
	binary.LittleEndian.PutUint16(buf[22:24], uint16(id.AdcChans))
}

func (id *IdentityLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(IdentitySize)
	if err != nil {
		return err
	}
	id.Serialize(bytes)
	return nil
}

func (id *IdentityLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < IdentitySize {
		df.SetTruncated()
		return errors.New("Identity too short")
	}
	id.BaseLayer = layers.BaseLayer{Contents: data[:IdentitySize], Payload: []byte{}}
	id.Identity = device.Identity{
		HardwareVersion: device.Version{Major: int(data[0]), Minor: int(data[1])},
		BsVersion:       data[2],
		BsRevision:      data[3],
		ApiVersion:      device.Version{Major: int(data[4]), Minor: int(data[5])},
		Asic: device.AsicID{
			ProbeType:    data[6],
			SerialNumber: binary.LittleEndian.Uint64(data[8:16]),
		},
		Option:     data[7],
		NumRefs:    int(binary.LittleEndian.Uint16(data[16:18])),
		TotalChans: int(binary.LittleEndian.Uint16(data[18:20])),
		AuxChans:   int(binary.LittleEndian.Uint16(data[20:22])),
		AdcChans:   int(binary.LittleEndian.Uint16(data[22:24])),
	}
	return nil
}

func DecodeIdentityLayer(data []byte, p gopacket.PacketBuilder) error {
	id := &IdentityLayer{}
	err := id.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(id)
	return nil
}
