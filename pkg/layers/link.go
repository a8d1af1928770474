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
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/snksoft/crc"

	"jinr.ru/greenlab/go-npx/pkg/log"
)

func init() {
	initUnknownLinkTypes()
	initActualLinkTypes()
}

const (
	// LinkLayerNum identifies the layer
	LinkLayerNum = 2001
	// LinkSync is a magic number that appears in the beginning of each link frame ("NP")
	LinkSync = 0x4E50
	// LinkHeaderSize is the size of the link header in bytes
	LinkHeaderSize = 12
	// LinkMaxFrameSize is the max size of a frame including header and CRC,
	// it fits into a single UDP datagram
	LinkMaxFrameSize = 65507
	// LinkMaxPayloadSize is the max size of a frame payload
	LinkMaxPayloadSize = LinkMaxFrameSize - LinkHeaderSize - 4
)

// Status values carried in the link header of basestation replies
const (
	StatusOK uint16 = iota
	StatusError
	StatusBusy
)

var crcTable = crc.NewTable(crc.CRC32)

// Checksum is the CRC32 of the serialized header and payload
func Checksum(data []byte) uint32 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, data)
	return crcTable.CRC32(c)
}

type LinkType uint16

const (
	LinkTypeCommand     LinkType = 0x0100
	LinkTypeAck         LinkType = 0x0101
	LinkTypeIdentity    LinkType = 0x0200
	LinkTypeSetting     LinkType = 0x0300
	LinkTypeCalibration LinkType = 0x0400
	LinkTypePacket      LinkType = 0x0500
)

type errorDecoderForLinkType int

func (e *errorDecoderForLinkType) Decode(data []byte, p gopacket.PacketBuilder) error {
	return e
}

func (e *errorDecoderForLinkType) Error() string {
	return fmt.Sprintf("Unable to decode link type %d", int(*e))
}

var errorDecodersForLinkType [65536]errorDecoderForLinkType
var LinkMetadata [65536]layers.EnumMetadata

func initUnknownLinkTypes() {
	for i := 0; i < 65536; i++ {
		errorDecodersForLinkType[i] = errorDecoderForLinkType(i)
		LinkMetadata[i] = layers.EnumMetadata{
			DecodeWith: &errorDecodersForLinkType[i],
			Name:       "UnknownLinkType",
		}
	}
}

func initActualLinkTypes() {
	LinkMetadata[LinkTypeCommand] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(DecodeCommandLayer), Name: "Command", LayerType: CommandLayerType}
	LinkMetadata[LinkTypeAck] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(DecodeCommandLayer), Name: "Ack", LayerType: CommandLayerType}
	LinkMetadata[LinkTypeIdentity] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(DecodeIdentityLayer), Name: "Identity", LayerType: IdentityLayerType}
	LinkMetadata[LinkTypeSetting] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(DecodeSettingLayer), Name: "Setting", LayerType: SettingLayerType}
	LinkMetadata[LinkTypeCalibration] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(DecodeCalibrationLayer), Name: "Calibration", LayerType: CalibrationLayerType}
	LinkMetadata[LinkTypePacket] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(DecodePacketLayer), Name: "Packet", LayerType: PacketLayerType}
}

// LayerType returns LinkMetadata.LayerType
func (t LinkType) LayerType() gopacket.LayerType {
	return LinkMetadata[t].LayerType
}

// Decode calls LinkMetadata.DecodeWith's decoder
func (t LinkType) Decode(data []byte, p gopacket.PacketBuilder) error {
	return LinkMetadata[t].DecodeWith.Decode(data, p)
}

// String returns LinkMetadata.Name
func (t LinkType) String() string {
	return LinkMetadata[t].Name
}

type LinkHeader struct {
	Type   LinkType
	Sync   uint16
	Seq    uint16
	Len    uint16 // payload length in bytes
	Status uint16
	Flags  uint16
}

type LinkLayer struct {
	layers.BaseLayer
	LinkHeader
	Crc uint32
}

var LinkLayerType = gopacket.RegisterLayerType(LinkLayerNum,
	gopacket.LayerTypeMetadata{Name: "LinkLayerType", Decoder: gopacket.DecodeFunc(decodeLinkLayer)})

func (l *LinkLayer) LayerType() gopacket.LayerType {
	return LinkLayerType
}

// SerializeHeader serializes only the link header (not the tail) to a buffer.
// The CRC covers the header, so it is computed by Frame from the serialized
// header and payload before SerializeTo is called.
func (l *LinkLayer) SerializeHeader(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(l.Type))
	binary.LittleEndian.PutUint16(buf[2:4], l.Sync)
	binary.LittleEndian.PutUint16(buf[4:6], l.Seq)
	binary.LittleEndian.PutUint16(buf[6:8], l.Len)
	binary.LittleEndian.PutUint16(buf[8:10], l.Status)
	binary.LittleEndian.PutUint16(buf[10:12], l.Flags)
}

// SerializeTo serializes the layer into bytes and writes the bytes to the SerializeBuffer
func (l *LinkLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	headerBytes, err := b.PrependBytes(LinkHeaderSize)
	if err != nil {
		return err
	}
	l.SerializeHeader(headerBytes)

	tailBytes, err := b.AppendBytes(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tailBytes[0:4], l.Crc)
	return nil
}

// DecodeFromBytes attempts to decode the byte slice as a link frame
func (l *LinkLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < LinkHeaderSize+4 {
		df.SetTruncated()
		return errors.New("Link frame too short")
	}
	if binary.LittleEndian.Uint16(data[2:4]) != LinkSync {
		return fmt.Errorf("Wrong link sync. Must be 0x%04x", LinkSync)
	}
	length := int(binary.LittleEndian.Uint16(data[6:8]))
	if len(data) < LinkHeaderSize+length+4 {
		df.SetTruncated()
		return fmt.Errorf("Link frame truncated: payload %d bytes, frame %d bytes", length, len(data))
	}
	end := LinkHeaderSize + length

	l.BaseLayer = layers.BaseLayer{
		Contents: data[0:LinkHeaderSize],
		Payload:  data[LinkHeaderSize:end],
	}
	l.Type = LinkType(binary.LittleEndian.Uint16(data[0:2]))
	l.Sync = binary.LittleEndian.Uint16(data[2:4])
	l.Seq = binary.LittleEndian.Uint16(data[4:6])
	l.Len = uint16(length)
	l.Status = binary.LittleEndian.Uint16(data[8:10])
	l.Flags = binary.LittleEndian.Uint16(data[10:12])
	l.Crc = binary.LittleEndian.Uint32(data[end : end+4])

	if sum := Checksum(data[:end]); sum != l.Crc {
		return fmt.Errorf("Wrong link CRC 0x%08x, computed 0x%08x", l.Crc, sum)
	}
	return nil
}

func (l *LinkLayer) NextLayerType() gopacket.LayerType {
	return l.Type.LayerType()
}

func decodeLinkLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &LinkLayer{}
	err := l.DecodeFromBytes(data, p)
	if err != nil {
		log.Debug("Error while decoding link layer: %s", err)
		return err
	}
	p.AddLayer(l)
	if l.Len == 0 {
		return nil
	}
	return p.NextDecoder(l.NextLayerType())
}

// PayloadLayer is implemented by every layer carried in a link frame
type PayloadLayer interface {
	gopacket.SerializableLayer
	Size() int
	Serialize(buf []byte)
}

// Frame wraps the payload into a link frame with a valid CRC.
// payload may be nil for frames carrying only a status.
func Frame(typ LinkType, seq, status uint16, payload PayloadLayer) ([]byte, error) {
	size := 0
	if payload != nil {
		size = payload.Size()
	}
	if size > LinkMaxPayloadSize {
		return nil, fmt.Errorf("Payload of %d bytes does not fit into a link frame", size)
	}
	l := &LinkLayer{}
	l.Type = typ
	l.Sync = LinkSync
	l.Seq = seq
	l.Len = uint16(size)
	l.Status = status

	raw := make([]byte, LinkHeaderSize+size)
	l.SerializeHeader(raw)
	if payload != nil {
		payload.Serialize(raw[LinkHeaderSize:])
	}
	l.Crc = Checksum(raw)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	var err error
	if payload != nil {
		err = gopacket.SerializeLayers(buf, opts, l, payload)
	} else {
		err = gopacket.SerializeLayers(buf, opts, l)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a link frame. The returned packet carries the link layer
// and the payload layer of the frame type.
func Decode(data []byte) (gopacket.Packet, *LinkLayer, error) {
	packet := gopacket.NewPacket(data, LinkLayerType, gopacket.Default)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, nil, errLayer.Error()
	}
	link, ok := packet.Layer(LinkLayerType).(*LinkLayer)
	if !ok {
		return nil, nil, errors.New("Not a link frame")
	}
	return packet, link, nil
}
