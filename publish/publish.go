// Package publish sends pulled chunks to subscribers over a ZMQ PUB socket.
// Each message has two frames: the topic from Topic, then a packet from the
// packets package.
package publish

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/usnistgov/nvxinlet"
	"github.com/usnistgov/nvxinlet/internal/unboundedchan"
	"github.com/usnistgov/nvxinlet/packets"
)

// DefaultPort is the TCP port used when the configuration names none.
const DefaultPort = 5510

// Topic returns the topic frame for chunks from device index. Subscribers
// that want one device subscribe to its topic; the trailing dot keeps
// device 1 from matching device 10.
func Topic(index int) string {
	return fmt.Sprintf("NVX%d.", index)
}

type message struct {
	topic  string
	packet *packets.Packet
}

// Publisher owns one PUB socket. Publish never waits for the network: packets
// are queued and sent by a goroutine that alone touches the socket.
type Publisher struct {
	socket   *zmq.Socket
	endpoint string
	queue    *unboundedchan.UnboundedChannel[message]

	seqLock sync.Mutex
	seq     map[int]uint32

	sent     uint64 // only touched by the sending goroutine until Close returns
	sendErrs uint64
	sync.WaitGroup
}

// NewPublisher binds a PUB socket to endpoint (such as "tcp://*:5510") and
// starts sending.
func NewPublisher(endpoint string) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetLinger(100 * time.Millisecond); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("binding PUB socket to %s: %w", endpoint, err)
	}
	bound, err := socket.GetLastEndpoint()
	if err != nil {
		bound = endpoint
	}
	p := &Publisher{
		socket:   socket,
		endpoint: bound,
		queue:    unboundedchan.NewUnboundedChannel[message](),
		seq:      make(map[int]uint32),
	}
	p.Add(1)
	go p.run()
	return p, nil
}

// Endpoint returns the address the socket is bound to, with any wildcard port resolved.
func (p *Publisher) Endpoint() string {
	return p.endpoint
}

// Publish queues chunk from device index for sending. Empty chunks are not
// sent. Each device's packets carry consecutive sequence numbers, so
// subscribers can detect dropped messages.
func (p *Publisher) Publish(index int, layout nvxinlet.Layout, chunk nvxinlet.Chunk) error {
	if chunk.Len() == 0 {
		return nil
	}
	p.seqLock.Lock()
	seq := p.seq[index]
	p.seq[index] = seq + 1
	p.seqLock.Unlock()

	packet, err := packets.NewPacket(chunk, layout, uint32(index), seq, time.Now())
	if err != nil {
		return err
	}
	if !p.queue.Send(message{topic: Topic(index), packet: packet}) {
		return fmt.Errorf("publisher on %s is closed: %w", p.endpoint, nvxinlet.ErrState)
	}
	return nil
}

// Pending returns the number of packets queued but not yet sent.
func (p *Publisher) Pending() int {
	return p.queue.Len()
}

func (p *Publisher) run() {
	defer p.Done()
	for msg := range p.queue.Out() {
		if _, err := p.socket.SendMessage(msg.topic, msg.packet.Bytes()); err != nil {
			p.sendErrs++
			if p.sendErrs == 1 {
				nvxinlet.ProblemLogger.Printf("publishing %v: %v", msg.packet, err)
			}
			continue
		}
		p.sent++
	}
}

// Close sends every queued packet, then closes the socket.
func (p *Publisher) Close() error {
	p.queue.Close()
	p.Wait()
	if p.sendErrs > 0 {
		nvxinlet.ProblemLogger.Printf("publisher on %s: %d of %d packets failed to send",
			p.endpoint, p.sendErrs, p.sent+p.sendErrs)
	}
	return p.socket.Close()
}
