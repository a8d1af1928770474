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
	// SettingLayerNum identifies the layer
	SettingLayerNum = 2004
	SettingSize     = 8
)

// SettingLayer writes one field of one channel. Channel is -1 for the
// global fields.
type SettingLayer struct {
	layers.BaseLayer
	Channel int16
	Field   device.Field
	Value   int32
}

var SettingLayerType = gopacket.RegisterLayerType(SettingLayerNum,
	gopacket.LayerTypeMetadata{Name: "SettingLayerType", Decoder: gopacket.DecodeFunc(DecodeSettingLayer)})

func (s *SettingLayer) LayerType() gopacket.LayerType {
	return SettingLayerType
}

func (s *SettingLayer) Size() int {
	return SettingSize
}

func (s *SettingLayer) Serialize(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(s.Channel))
	buf[2] = uint8(s.Field)
	buf[3] = 0
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.Value))
}

func (s *SettingLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(SettingSize)
	if err != nil {
		return err
	}
	s.Serialize(bytes)
	return nil
}

func (s *SettingLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < SettingSize {
		df.SetTruncated()
		return errors.New("Setting too short")
	}
	s.BaseLayer = layers.BaseLayer{Contents: data[:SettingSize], Payload: []byte{}}
	s.Channel = int16(binary.LittleEndian.Uint16(data[0:2]))
	s.Field = device.Field(data[2])
	s.Value = int32(binary.LittleEndian.Uint32(data[4:8]))
	return nil
}

func DecodeSettingLayer(data []byte, p gopacket.PacketBuilder) error {
	s := &SettingLayer{}
	err := s.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(s)
	return nil
}
