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
	"math"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"jinr.ru/greenlab/go-npx/pkg/device"
)

const (
	// CalibrationLayerNum identifies the layer
	CalibrationLayerNum = 2005
)

// CalibrationLayer carries the gain correction table stored on the probe,
// one AP and one LFP float32 factor per channel.
type CalibrationLayer struct {
	layers.BaseLayer
	Coefficients []device.Coefficient
}

var CalibrationLayerType = gopacket.RegisterLayerType(CalibrationLayerNum,
	gopacket.LayerTypeMetadata{Name: "CalibrationLayerType", Decoder: gopacket.DecodeFunc(DecodeCalibrationLayer)})

func (c *CalibrationLayer) LayerType() gopacket.LayerType {
	return CalibrationLayerType
}

func (c *CalibrationLayer) Size() int {
	return 4 + 8*len(c.Coefficients)
}

func (c *CalibrationLayer) Serialize(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(c.Coefficients)))
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	for i, coef := range c.Coefficients {
		off := 4 + 8*i
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(float32(coef.Ap)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(float32(coef.Lfp)))
	}
}

func (c *CalibrationLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.AppendBytes(c.Size())
	if err != nil {
		return err
	}
	c.Serialize(bytes)
	return nil
}

func (c *CalibrationLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		df.SetTruncated()
		return errors.New("Calibration too short")
	}
	n := int(binary.LittleEndian.Uint16(data[0:2]))
	size := 4 + 8*n
	if len(data) < size {
		df.SetTruncated()
		return errors.New("Calibration table truncated")
	}
	c.BaseLayer = layers.BaseLayer{Contents: data[:size], Payload: []byte{}}
	c.Coefficients = make([]device.Coefficient, n)
	for i := range c.Coefficients {
		off := 4 + 8*i
		c.Coefficients[i] = device.Coefficient{
			Ap:  float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))),
			Lfp: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off+4 : off+8]))),
		}
	}
	return nil
}

func DecodeCalibrationLayer(data []byte, p gopacket.PacketBuilder) error {
	c := &CalibrationLayer{}
	err := c.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(c)
	return nil
}
