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
)

const (
	// CommandLayerNum identifies the layer
	CommandLayerNum = 2002
	CommandSize     = 8
)

type Code uint16

const (
	CodeOpen Code = iota + 1
	CodeClose
	CodeIdentity
	CodeCalibration
	CodeStreamStart
	CodeStreamStop
	CodeTrigger
	CodeRecordStart
	CodeRecordStop
)

var codeNames = map[Code]string{
	CodeOpen:        "open",
	CodeClose:       "close",
	CodeIdentity:    "identity",
	CodeCalibration: "calibration",
	CodeStreamStart: "stream_start",
	CodeStreamStop:  "stream_stop",
	CodeTrigger:     "trigger",
	CodeRecordStart: "record_start",
	CodeRecordStop:  "record_stop",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// CommandLayer is a control request (LinkTypeCommand) or its acknowledge
// (LinkTypeAck). For acks Arg carries the result, e.g. the trigger line.
type CommandLayer struct {
	layers.BaseLayer
	Code Code
	Arg  uint32
}

var CommandLayerType = gopacket.RegisterLayerType(CommandLayerNum,
	gopacket.LayerTypeMetadata{Name: "CommandLayerType", Decoder: gopacket.DecodeFunc(DecodeCommandLayer)})

func (c *CommandLayer) LayerType() gopacket.LayerType {
	return CommandLayerType
}

func (c *CommandLayer) Size() int {
	return CommandSize
}

func (c *CommandLayer) Serialize(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(c.Code))
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], c.Arg)
}

func (c *CommandLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(CommandSize)
	if err != nil {
		return err
	}
	c.Serialize(bytes)
	return nil
}

func (c *CommandLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < CommandSize {
		df.SetTruncated()
		return errors.New("Command too short")
	}
	c.BaseLayer = layers.BaseLayer{Contents: data[:CommandSize], Payload: []byte{}}
	c.Code = Code(binary.LittleEndian.Uint16(data[0:2]))
	c.Arg = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

func DecodeCommandLayer(data []byte, p gopacket.PacketBuilder) error {
	c := &CommandLayer{}
	err := c.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(c)
	return nil
}
