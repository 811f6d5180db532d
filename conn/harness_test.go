package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vorobalek/whisper-go/clock"
	"github.com/vorobalek/whisper-go/envelope"
	"github.com/vorobalek/whisper-go/internal/metrics"
)

// The harness wires two registries through an in-memory relay and a fake
// peer-connection fabric, so the full dial/offer/answer/ice handshake runs
// without sockets.

type fakeRTC struct {
	mu   sync.Mutex
	pcs  map[string]*fakePC
	next int
}

func newFakeRTC() *fakeRTC {
	return &fakeRTC{pcs: make(map[string]*fakePC)}
}

func (r *fakeRTC) NewPeerConnection(iceServers []string) (PeerConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	pc := &fakePC{rtc: r, id: fmt.Sprintf("pc-%d", r.next)}
	r.pcs[pc.id] = pc
	return pc, nil
}

type fakePC struct {
	rtc *fakeRTC
	id  string

	mu         sync.Mutex
	onICE      func([]byte)
	onDC       func(DataChannel)
	onFailed   func()
	dc         *fakeDC
	remoteID   string
	candidates [][]byte
	closed     bool
	linked     bool
}

func (p *fakePC) CreateOffer() (SessionDescription, error) {
	p.emitCandidate()
	return SessionDescription{Type: "offer", SDP: p.id}, nil
}

func (p *fakePC) CreateAnswer() (SessionDescription, error) {
	p.emitCandidate()
	return SessionDescription{Type: "answer", SDP: p.id}, nil
}

func (p *fakePC) emitCandidate() {
	p.mu.Lock()
	fn := p.onICE
	id := p.id
	p.mu.Unlock()
	if fn != nil {
		go fn([]byte(fmt.Sprintf(`{"candidate":"cand-%s"}`, id)))
	}
}

func (p *fakePC) SetRemoteDescription(desc SessionDescription) error {
	p.mu.Lock()
	p.remoteID = desc.SDP
	p.mu.Unlock()
	p.rtc.tryLink(p)
	return nil
}

func (p *fakePC) AddICECandidate(candidate []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePC) OnICECandidate(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePC) CreateDataChannel(label string) (DataChannel, error) {
	dc := &fakeDC{label: label}
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()
	return dc, nil
}

func (p *fakePC) OnDataChannel(fn func(DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDC = fn
}

func (p *fakePC) OnConnectionFailed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = fn
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) receivedCandidates() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// tryLink pairs two fake connections once both installed each other's
// description, then opens the data channels.
func (r *fakeRTC) tryLink(p *fakePC) {
	r.mu.Lock()
	p.mu.Lock()
	peer := r.pcs[p.remoteID]
	p.mu.Unlock()
	r.mu.Unlock()
	if peer == nil {
		return
	}

	peer.mu.Lock()
	back := peer.remoteID == p.id && !peer.linked
	peer.mu.Unlock()
	p.mu.Lock()
	mine := !p.linked
	p.mu.Unlock()
	if !back || !mine {
		return
	}

	p.mu.Lock()
	p.linked = true
	offererDC := p.dc
	p.mu.Unlock()
	peer.mu.Lock()
	peer.linked = true
	if offererDC == nil {
		offererDC = peer.dc
	}
	peer.mu.Unlock()

	if offererDC == nil {
		return
	}

	answererDC := &fakeDC{label: offererDC.label}
	offererDC.link(answererDC)
	answererDC.link(offererDC)

	// Deliver the remotely-created channel to the answerer, then open both.
	var answerer *fakePC
	if p.dcOwner() {
		answerer = peer
	} else {
		answerer = p
	}
	answerer.mu.Lock()
	onDC := answerer.onDC
	answerer.mu.Unlock()
	if onDC != nil {
		onDC(answererDC)
	}

	go offererDC.open()
	go answererDC.open()
}

func (p *fakePC) dcOwner() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc != nil
}

type fakeDC struct {
	label string

	mu        sync.Mutex
	peer      *fakeDC
	onOpen    func()
	onMessage func([]byte)
	opened    bool
	closed    bool
}

func (d *fakeDC) Label() string { return d.label }

func (d *fakeDC) link(peer *fakeDC) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peer = peer
}

func (d *fakeDC) open() {
	d.mu.Lock()
	if d.opened {
		d.mu.Unlock()
		return
	}
	d.opened = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDC) Send(data []byte) error {
	d.mu.Lock()
	peer := d.peer
	closed := d.closed
	d.mu.Unlock()
	if closed || peer == nil {
		return fmt.Errorf("data channel not open")
	}
	peer.mu.Lock()
	fn := peer.onMessage
	peer.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	return nil
}

func (d *fakeDC) OnOpen(fn func()) {
	d.mu.Lock()
	opened := d.opened
	d.onOpen = fn
	d.mu.Unlock()
	if opened && fn != nil {
		fn()
	}
}

func (d *fakeDC) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

func (d *fakeDC) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeRelay bridges call services to the other endpoint's dispatcher.
type fakeRelay struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	clk       *clock.Service
	dropDials bool
	holdDials bool
	held      []func()
}

// release delivers dials queued while holdDials was set. Used to force a
// deterministic simultaneous-dial interleaving.
func (r *fakeRelay) release() {
	r.mu.Lock()
	held := r.held
	r.held = nil
	r.holdDials = false
	r.mu.Unlock()
	for _, deliver := range held {
		deliver()
	}
}

type endpoint struct {
	key        string
	relay      *fakeRelay
	registry   *Registry
	dispatcher *Dispatcher
}

// endpointCalls implements CallService for one endpoint, signing nothing:
// the harness trusts its own traffic and exercises routing, not crypto
// validation (the codec has its own tests).
type endpointCalls struct {
	ep *endpoint

	mu     sync.Mutex
	dials  []string
	offers []string
	closes []string
}

func (c *endpointCalls) target(recipient string) *endpoint {
	c.ep.relay.mu.Lock()
	defer c.ep.relay.mu.Unlock()
	return c.ep.relay.endpoints[recipient]
}

func (c *endpointCalls) Dial(ctx context.Context, recipient string, ephemeralPub []byte) error {
	c.mu.Lock()
	c.dials = append(c.dials, recipient)
	c.mu.Unlock()
	if c.ep.relay.dropDials {
		return nil
	}
	target := c.target(recipient)
	if target == nil {
		return nil
	}
	deliver := func() {
		target.dispatcher.OnDial(&envelope.Parsed{
			Envelope:     envelope.Envelope{Method: envelope.MethodDial},
			Sender:       c.ep.key,
			Timestamp:    c.ep.relay.clk.ServerTime(),
			Recipient:    recipient,
			EphemeralKey: ephemeralPub,
		})
	}
	c.ep.relay.mu.Lock()
	if c.ep.relay.holdDials {
		c.ep.relay.held = append(c.ep.relay.held, deliver)
		c.ep.relay.mu.Unlock()
		return nil
	}
	c.ep.relay.mu.Unlock()
	deliver()
	return nil
}

func (c *endpointCalls) Offer(ctx context.Context, recipient string, ephemeralPub, sealed []byte) error {
	c.mu.Lock()
	c.offers = append(c.offers, recipient)
	c.mu.Unlock()
	target := c.target(recipient)
	if target == nil {
		return nil
	}
	target.dispatcher.OnOffer(&envelope.Parsed{
		Envelope:     envelope.Envelope{Method: envelope.MethodOffer},
		Sender:       c.ep.key,
		Timestamp:    c.ep.relay.clk.ServerTime(),
		Recipient:    recipient,
		EphemeralKey: ephemeralPub,
		Data:         sealed,
	})
	return nil
}

func (c *endpointCalls) Answer(ctx context.Context, recipient string, ephemeralPub, sealed []byte) error {
	target := c.target(recipient)
	if target == nil {
		return nil
	}
	target.dispatcher.OnAnswer(&envelope.Parsed{
		Envelope:     envelope.Envelope{Method: envelope.MethodAnswer},
		Sender:       c.ep.key,
		Timestamp:    c.ep.relay.clk.ServerTime(),
		Recipient:    recipient,
		EphemeralKey: ephemeralPub,
		Data:         sealed,
	})
	return nil
}

func (c *endpointCalls) Ice(ctx context.Context, recipient string, ephemeralPub, sealed []byte, source envelope.IceSource) error {
	target := c.target(recipient)
	if target == nil {
		return nil
	}
	target.dispatcher.OnIce(&envelope.Parsed{
		Envelope:     envelope.Envelope{Method: envelope.MethodIce},
		Sender:       c.ep.key,
		Timestamp:    c.ep.relay.clk.ServerTime(),
		Recipient:    recipient,
		EphemeralKey: ephemeralPub,
		Data:         sealed,
		Source:       source,
	})
	return nil
}

func (c *endpointCalls) Close(recipient string) bool {
	c.mu.Lock()
	c.closes = append(c.closes, recipient)
	c.mu.Unlock()
	target := c.target(recipient)
	if target == nil {
		return true
	}
	target.dispatcher.OnClose(&envelope.Parsed{
		Envelope:  envelope.Envelope{Method: envelope.MethodClose},
		Sender:    c.ep.key,
		Timestamp: c.ep.relay.clk.ServerTime(),
		Recipient: recipient,
	})
	return true
}

type harness struct {
	relay *fakeRelay
	rtc   *fakeRTC
	clk   *clock.Service
	a     *endpoint
	b     *endpoint
	calls map[string]*endpointCalls
}

type harnessOptions struct {
	attemptDeadline time.Duration
	focusOnDial     func(string) bool
	requestDial     func(string) bool
}

func newHarness(opts harnessOptions) *harness {
	clk := clock.NewServiceWithNow(func() time.Time { return time.Now() })
	relay := &fakeRelay{endpoints: make(map[string]*endpoint), clk: clk}
	rtc := newFakeRTC()
	h := &harness{relay: relay, rtc: rtc, clk: clk, calls: make(map[string]*endpointCalls)}

	// Key names chosen so "key-b" > "key-a" makes B the impolite peer.
	h.a = h.addEndpoint("key-a", opts)
	h.b = h.addEndpoint("key-b", opts)
	return h
}

func (h *harness) addEndpoint(key string, opts harnessOptions) *endpoint {
	ep := &endpoint{key: key, relay: h.relay}
	calls := &endpointCalls{ep: ep}
	h.calls[key] = calls

	deadline := opts.attemptDeadline
	if deadline == 0 {
		deadline = 5 * time.Second
	}

	ep.registry = NewRegistry(RegistryConfig{
		Services: &Services{
			Calls:           calls,
			Connector:       h.rtc,
			Clock:           h.clk,
			Metrics:         metrics.NewCollector(),
			LocalKey:        key,
			AttemptDeadline: deadline,
		},
	})
	ep.dispatcher = NewDispatcher(ep.registry, DispatcherConfig{
		FocusOnDial: opts.focusOnDial,
		RequestDial: opts.requestDial,
	})

	h.relay.mu.Lock()
	h.relay.endpoints[key] = ep
	h.relay.mu.Unlock()
	return ep
}

func candidateValues(raw [][]byte) []string {
	var out []string
	for _, c := range raw {
		var parsed struct {
			Candidate string `json:"candidate"`
		}
		if err := json.Unmarshal(c, &parsed); err == nil {
			out = append(out, parsed.Candidate)
		}
	}
	return out
}
