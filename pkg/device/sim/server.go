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

package sim

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/layers"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

type inPacket struct {
	Data []byte
	gopacket.CaptureInfo
}

type outPacket struct {
	Data []byte
	*net.UDPAddr
}

// Server exposes a simulated basestation on a UDP port using the link
// protocol of the real hardware.
type Server struct {
	device ifc.Transport
	conn   *net.UDPConn
	chIn   chan inPacket
	chOut  chan outPacket

	mu      sync.Mutex
	stream  context.CancelFunc
	dataSeq uint16
}

// NewServer serves d, which is a *Device or a *Triggered.
func NewServer(d ifc.Transport) *Server {
	return &Server{
		device: d,
		chIn:   make(chan inPacket),
		chOut:  make(chan outPacket, 256),
	}
}

// Listen binds the server; use Addr to find the port when addr ends in :0.
func (s *Server) Listen(addr string) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.conn, err = net.ListenUDP("udp", uaddr)
	return err
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// ReadPacketData reads the input queue and returns packet data and metadata.
// This method is from PacketDataSource interface.
func (s *Server) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	p := <-s.chIn
	return p.Data, p.CaptureInfo, nil
}

func (s *Server) Run(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("server is not listening")
	}
	defer s.conn.Close()
	defer s.stopStream()

	errChan := make(chan error, 1)

	// Read UDP packets from wire and put them to input queue
	go func() {
		for {
			buffer := make([]byte, layers.LinkMaxFrameSize)
			length, addr, readErr := s.conn.ReadFromUDP(buffer)
			if readErr != nil {
				errChan <- readErr
				return
			}
			s.chIn <- inPacket{
				Data: buffer[:length],
				CaptureInfo: gopacket.CaptureInfo{
					Length:        length,
					CaptureLength: length,
					Timestamp:     time.Now(),
					AncillaryData: []interface{}{addr},
				},
			}
		}
	}()

	// Read captured packets from input queue, parse them and answer
	go func() {
		source := gopacket.NewPacketSource(s, layers.LinkLayerType)
		for packet := range source.Packets() {
			if errLayer := packet.ErrorLayer(); errLayer != nil {
				log.Debug("Simulator drops frame: %s", errLayer.Error())
				continue
			}
			addr, ok := packet.Metadata().AncillaryData[0].(*net.UDPAddr)
			if !ok {
				continue
			}
			s.handle(ctx, packet, addr)
		}
	}()

	// Read packets from output queue and send them to wire
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-s.chOut:
				if _, err := s.conn.WriteToUDP(out.Data, out.UDPAddr); err != nil {
					log.Error("Error while sending data to %s", out.UDPAddr)
					errChan <- err
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

func (s *Server) reply(addr *net.UDPAddr, typ layers.LinkType, seq, status uint16, payload layers.PayloadLayer) {
	frame, err := layers.Frame(typ, seq, status, payload)
	if err != nil {
		log.Error("Simulator can not build %s reply: %s", typ, err)
		return
	}
	select {
	case s.chOut <- outPacket{Data: frame, UDPAddr: addr}:
	default:
		log.Debug("Simulator output queue is full, %s frame dropped", typ)
	}
}

func (s *Server) handle(ctx context.Context, packet gopacket.Packet, addr *net.UDPAddr) {
	link := packet.Layer(layers.LinkLayerType).(*layers.LinkLayer)
	switch link.Type {
	case layers.LinkTypeSetting:
		setting, ok := packet.Layer(layers.SettingLayerType).(*layers.SettingLayer)
		if !ok {
			return
		}
		status := layers.StatusOK
		if err := s.device.WriteChannelSetting(int(setting.Channel), setting.Field, int(setting.Value)); err != nil {
			status = layers.StatusError
		}
		s.reply(addr, layers.LinkTypeAck, link.Seq, status, &layers.CommandLayer{})
	case layers.LinkTypeCommand:
		cmd, ok := packet.Layer(layers.CommandLayerType).(*layers.CommandLayer)
		if !ok {
			return
		}
		s.command(ctx, link.Seq, cmd, addr)
	default:
		log.Debug("Simulator ignores %s frame", link.Type)
	}
}

func (s *Server) command(ctx context.Context, seq uint16, cmd *layers.CommandLayer, addr *net.UDPAddr) {
	ack := func(err error, arg uint32) {
		status := layers.StatusOK
		if err != nil {
			log.Debug("Simulator %s failed: %s", cmd.Code, err)
			status = layers.StatusError
		}
		s.reply(addr, layers.LinkTypeAck, seq, status, &layers.CommandLayer{Code: cmd.Code, Arg: arg})
	}
	switch cmd.Code {
	case layers.CodeOpen:
		ack(s.device.OpenLink(ctx), 0)
	case layers.CodeClose:
		s.stopStream()
		s.device.CloseLink()
	case layers.CodeIdentity:
		id, err := s.device.QueryIdentity()
		if err != nil {
			ack(err, 0)
			return
		}
		s.reply(addr, layers.LinkTypeIdentity, seq, layers.StatusOK, &layers.IdentityLayer{Identity: *id})
	case layers.CodeCalibration:
		coefs, err := s.device.ReadCalibration()
		if err != nil {
			ack(err, 0)
			return
		}
		s.reply(addr, layers.LinkTypeCalibration, seq, layers.StatusOK, &layers.CalibrationLayer{Coefficients: coefs})
	case layers.CodeStreamStart:
		err := s.device.StartStreaming()
		if err == nil {
			s.startStream(ctx, addr)
		}
		ack(err, 0)
	case layers.CodeStreamStop:
		s.stopStream()
		ack(s.device.StopStreaming(), 0)
	case layers.CodeTrigger:
		var armed bool
		var err error
		if src, ok := s.device.(ifc.TriggerSource); ok {
			armed, err = src.TriggerArmed()
		}
		arg := uint32(0)
		if armed {
			arg = 1
		}
		ack(err, arg)
	default:
		ack(errors.New("unsupported command"), 0)
	}
}

func (s *Server) startStream(ctx context.Context, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stream = cancel
	go func() {
		for ctx.Err() == nil {
			p, err := s.device.PullPacket(100 * time.Millisecond)
			if errors.Is(err, ifc.ErrPullTimeout) {
				continue
			}
			if err != nil {
				log.Error("Simulator stream stopped: %s", err)
				return
			}
			s.mu.Lock()
			seq := s.dataSeq
			s.dataSeq++
			s.mu.Unlock()
			s.reply(addr, layers.LinkTypePacket, seq, layers.StatusOK, &layers.PacketLayer{Packet: *p})
		}
	}()
}

func (s *Server) stopStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream()
		s.stream = nil
	}
}
