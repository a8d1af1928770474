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

package udp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/device/ifc"
	"jinr.ru/greenlab/go-npx/pkg/layers"
	"jinr.ru/greenlab/go-npx/pkg/log"
	"jinr.ru/greenlab/go-npx/pkg/recording"
)

const (
	DefaultRequestTimeout = 200 * time.Millisecond
	packetQueueSize       = 4096
)

type inPacket struct {
	Data []byte
	gopacket.CaptureInfo
}

// inQueue carries the datagrams of one open link to its dispatcher
type inQueue chan inPacket

// ReadPacketData reads the input queue and returns packet data and metadata.
// This method is from PacketDataSource interface.
func (q inQueue) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	p, ok := <-q
	if !ok {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	return p.Data, p.CaptureInfo, nil
}

// Transport talks to a basestation over UDP. Control requests are matched
// to their replies by sequence number; data packets are queued for
// PullPacket.
type Transport struct {
	addr           string
	RequestTimeout time.Duration

	mu      sync.Mutex
	conn    *net.UDPConn
	seq     uint16
	pending map[uint16]chan gopacket.Packet
	done    chan struct{}
	sink    *recording.Writer

	packets chan *device.Packet
	dropped uint64
}

var _ ifc.Transport = &Transport{}
var _ ifc.TriggerSource = &Transport{}

func New(addr string) *Transport {
	return &Transport{
		addr:           addr,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func (t *Transport) OpenLink(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.conn = conn
	t.pending = map[uint16]chan gopacket.Packet{}
	t.done = make(chan struct{})
	t.packets = make(chan *device.Packet, packetQueueSize)
	chIn := make(inQueue, 64)
	t.mu.Unlock()

	go t.read(conn, chIn, t.done)
	go t.dispatch(chIn, t.packets)

	if _, err := t.command(ctx, layers.CodeOpen); err != nil {
		t.CloseLink()
		return err
	}
	log.Debug("Link to %s is open", t.addr)
	return nil
}

func (t *Transport) CloseLink() error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	// best effort, the basestation also drops idle links
	frame, err := layers.Frame(layers.LinkTypeCommand, t.nextSeq(), layers.StatusOK, &layers.CommandLayer{Code: layers.CodeClose})
	if err == nil {
		conn.Write(frame)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	close(t.done)
	t.conn = nil
	if t.sink != nil {
		t.sink.Close()
		t.sink = nil
	}
	return conn.Close()
}

// read puts datagrams from the wire to the input queue
func (t *Transport) read(conn *net.UDPConn, chIn inQueue, done chan struct{}) {
	defer close(chIn)
	for {
		buffer := make([]byte, layers.LinkMaxFrameSize)
		length, err := conn.Read(buffer)
		if err != nil {
			select {
			case <-done:
			default:
				log.Error("Error while reading from %s: %s", t.addr, err)
			}
			return
		}
		chIn <- inPacket{
			Data: buffer[:length],
			CaptureInfo: gopacket.CaptureInfo{
				Length:        length,
				CaptureLength: length,
				Timestamp:     time.Now(),
			},
		}
	}
}

// dispatch parses frames from the input queue and routes them
func (t *Transport) dispatch(chIn inQueue, packets chan *device.Packet) {
	source := gopacket.NewPacketSource(chIn, layers.LinkLayerType)
	for packet := range source.Packets() {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			log.Debug("Drop frame: %s", errLayer.Error())
			continue
		}
		link, ok := packet.Layer(layers.LinkLayerType).(*layers.LinkLayer)
		if !ok {
			continue
		}
		if link.Type == layers.LinkTypePacket {
			pl, ok := packet.Layer(layers.PacketLayerType).(*layers.PacketLayer)
			if !ok {
				continue
			}
			p := pl.Packet
			select {
			case packets <- &p:
			default:
				t.mu.Lock()
				t.dropped++
				t.mu.Unlock()
			}
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[link.Seq]
		delete(t.pending, link.Seq)
		t.mu.Unlock()
		if !ok {
			log.Debug("Drop %s reply with unknown seq %d", link.Type, link.Seq)
			continue
		}
		ch <- packet
	}
}

func (t *Transport) nextSeq() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.seq
	t.seq++
	return seq
}

// request sends a frame and waits for the reply with the same sequence
// number. Lost datagrams are retried with backoff until ctx is done.
func (t *Transport) request(ctx context.Context, typ layers.LinkType, payload layers.PayloadLayer) (gopacket.Packet, error) {
	var reply gopacket.Packet
	op := func() error {
		t.mu.Lock()
		conn := t.conn
		if conn == nil {
			t.mu.Unlock()
			return backoff.Permanent(errors.New("link is not open"))
		}
		seq := t.seq
		t.seq++
		ch := make(chan gopacket.Packet, 1)
		t.pending[seq] = ch
		t.mu.Unlock()

		frame, err := layers.Frame(typ, seq, layers.StatusOK, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := conn.Write(frame); err != nil {
			return err
		}
		timer := time.NewTimer(t.RequestTimeout)
		defer timer.Stop()
		select {
		case reply = <-ch:
		case <-timer.C:
			t.mu.Lock()
			delete(t.pending, seq)
			t.mu.Unlock()
			return ErrRequestTimeout{Type: typ.String(), Seq: seq}
		case <-ctx.Done():
			t.mu.Lock()
			delete(t.pending, seq)
			t.mu.Unlock()
			return backoff.Permanent(ctx.Err())
		}
		link := reply.Layer(layers.LinkLayerType).(*layers.LinkLayer)
		if link.Status != layers.StatusOK {
			return backoff.Permanent(ErrStatus{Type: typ.String(), Status: link.Status})
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         200 * time.Millisecond,
		MaxElapsedTime:      4 * t.RequestTimeout,
		Clock:               backoff.SystemClock,
	}, ctx))
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *Transport) command(ctx context.Context, code layers.Code) (*layers.CommandLayer, error) {
	reply, err := t.request(ctx, layers.LinkTypeCommand, &layers.CommandLayer{Code: code})
	if err != nil {
		return nil, err
	}
	ack, ok := reply.Layer(layers.CommandLayerType).(*layers.CommandLayer)
	if !ok {
		return nil, ErrUnexpectedReply{Want: "command"}
	}
	return ack, nil
}

func (t *Transport) QueryIdentity() (*device.Identity, error) {
	reply, err := t.request(context.Background(), layers.LinkTypeCommand, &layers.CommandLayer{Code: layers.CodeIdentity})
	if err != nil {
		return nil, err
	}
	id, ok := reply.Layer(layers.IdentityLayerType).(*layers.IdentityLayer)
	if !ok {
		return nil, ErrUnexpectedReply{Want: "identity"}
	}
	identity := id.Identity
	return &identity, nil
}

func (t *Transport) WriteChannelSetting(channel int, field device.Field, value int) error {
	_, err := t.request(context.Background(), layers.LinkTypeSetting, &layers.SettingLayer{
		Channel: int16(channel),
		Field:   field,
		Value:   int32(value),
	})
	return err
}

func (t *Transport) ReadCalibration() ([]device.Coefficient, error) {
	reply, err := t.request(context.Background(), layers.LinkTypeCommand, &layers.CommandLayer{Code: layers.CodeCalibration})
	if err != nil {
		return nil, err
	}
	c, ok := reply.Layer(layers.CalibrationLayerType).(*layers.CalibrationLayer)
	if !ok {
		return nil, ErrUnexpectedReply{Want: "calibration"}
	}
	return c.Coefficients, nil
}

func (t *Transport) StartStreaming() error {
	// packets left over from a previous run would look stale
	t.mu.Lock()
	packets := t.packets
	t.mu.Unlock()
	for len(packets) > 0 {
		<-packets
	}
	_, err := t.command(context.Background(), layers.CodeStreamStart)
	return err
}

func (t *Transport) StopStreaming() error {
	_, err := t.command(context.Background(), layers.CodeStreamStop)
	return err
}

func (t *Transport) PullPacket(timeout time.Duration) (*device.Packet, error) {
	t.mu.Lock()
	packets, done := t.packets, t.done
	t.mu.Unlock()
	if packets == nil {
		return nil, errors.New("link is not open")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-packets:
		return p, nil
	case <-done:
		return nil, errors.New("link closed")
	case <-timer.C:
		return nil, ifc.ErrPullTimeout
	}
}

func (t *Transport) TriggerArmed() (bool, error) {
	ack, err := t.command(context.Background(), layers.CodeTrigger)
	if err != nil {
		return false, err
	}
	return ack.Arg != 0, nil
}

// StartRecordingSink records on the host; the basestation only streams.
func (t *Transport) StartRecordingSink(path string) (ifc.Sink, error) {
	w, err := recording.NewWriter(path)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sink != nil {
		t.sink.Close()
	}
	t.sink = w
	return w, nil
}

func (t *Transport) StopRecordingSink() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sink == nil {
		return nil
	}
	err := t.sink.Close()
	t.sink = nil
	return err
}

// Dropped is the number of data packets lost because PullPacket fell behind.
func (t *Transport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
