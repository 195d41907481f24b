package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/Wyydra/rendezvous/internal/core/domain"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

const (
	writeWait   = 10 * time.Second
	channelName = "probe"
)

var ErrRejected = errors.New("rejected by server")

type Options struct {
	URL        string
	SessionID  string
	Role       domain.Role
	ICEServers []webrtc.ICEServer
	// Greeting is sent by the creator on every data channel that opens.
	Greeting string
	// ExitOnMessage makes a viewer return once it has received the greeting.
	ExitOnMessage bool
}

// Stats summarizes what the probe observed.
type Stats struct {
	Peers          int64
	ChannelsOpened int64
	Messages       int64
}

// Probe is a signaling participant that performs real WebRTC negotiation
// through the server and opens a data channel with each remote peer.
type Probe struct {
	opts Options
	log  zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu    sync.Mutex
	peers map[string]*peer

	stats    Stats
	received chan struct{}
	recvOnce sync.Once
}

func New(opts Options, logger zerolog.Logger) *Probe {
	return &Probe{
		opts: opts,
		log: logger.With().
			Str(pkglog.FieldSessionID, opts.SessionID).
			Str(pkglog.FieldRole, opts.Role.String()).
			Logger(),
		peers:    make(map[string]*peer),
		received: make(chan struct{}),
	}
}

func (p *Probe) Stats() Stats {
	return Stats{
		Peers:          atomic.LoadInt64(&p.stats.Peers),
		ChannelsOpened: atomic.LoadInt64(&p.stats.ChannelsOpened),
		Messages:       atomic.LoadInt64(&p.stats.Messages),
	}
}

// Run joins the session and negotiates with peers until the session ends,
// ctx is cancelled or the connection drops.
func (p *Probe) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	p.conn = conn

	frames := make(chan inFrame)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	var reader sync.WaitGroup
	defer func() {
		close(done)
		p.shutdown()
		reader.Wait()
	}()

	if err := p.send(outFrame{Type: "join", SessionID: p.opts.SessionID, Role: p.opts.Role.String()}); err != nil {
		return err
	}

	reader.Add(1)
	go func() {
		defer reader.Done()
		for {
			var f inFrame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.received:
			return nil
		case err := <-readErr:
			return fmt.Errorf("connection lost: %w", err)
		case f := <-frames:
			done, err := p.handle(f)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (p *Probe) handle(f inFrame) (bool, error) {
	switch f.Type {
	case "joined":
		p.log.Info().Msg("joined session")
	case "waitingForViewers":
		p.log.Info().Msg("waiting for viewers")
	case "viewerJoined":
		if p.opts.Role == domain.RoleCreator {
			p.offer(f.ViewerID)
		}
	case "viewerLeft":
		p.log.Info().Str("viewer", f.ViewerID).Msg("viewer left")
		p.dropPeer(f.ViewerID)
	case "offer":
		p.answer(f.FromID, f.Payload)
	case "answer":
		p.acceptAnswer(f.FromID, f.Payload)
	case "iceCandidate":
		p.addCandidate(f.FromID, f.Payload)
	case "sessionEnded":
		p.log.Info().Msg("session ended")
		return true, nil
	case "error":
		p.log.Warn().Str("code", f.Code).Str("message", f.Message).Msg("server error")
		if f.Code == domain.ErrCodeNotFound || f.Code == domain.ErrCodeBadRequest {
			return true, fmt.Errorf("%w: %s %s", ErrRejected, f.Code, f.Message)
		}
	}
	return false, nil
}

func (p *Probe) newPeer(remote string) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: p.opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	pr := &peer{id: remote, pc: pc}
	l := p.log.With().Str("peer", remote).Logger()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			l.Error().Err(err).Msg("failed to marshal candidate")
			return
		}
		if err := p.send(outFrame{Type: "iceCandidate", SessionID: p.opts.SessionID, TargetID: remote, Payload: payload}); err != nil {
			l.Debug().Err(err).Msg("failed to send candidate")
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.Debug().Str("state", s.String()).Msg("peer connection state")
	})

	p.mu.Lock()
	if old, ok := p.peers[remote]; ok {
		old.close()
	}
	p.peers[remote] = pr
	p.mu.Unlock()
	atomic.AddInt64(&p.stats.Peers, 1)

	return pr, nil
}

func (p *Probe) peer(remote string) *peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers[remote]
}

func (p *Probe) dropPeer(remote string) {
	p.mu.Lock()
	pr, ok := p.peers[remote]
	delete(p.peers, remote)
	p.mu.Unlock()
	if ok {
		pr.close()
	}
}

func (p *Probe) offer(viewer string) {
	l := p.log.With().Str("peer", viewer).Logger()

	pr, err := p.newPeer(viewer)
	if err != nil {
		l.Error().Err(err).Msg("failed to create peer")
		return
	}

	dc, err := pr.pc.CreateDataChannel(channelName, nil)
	if err != nil {
		l.Error().Err(err).Msg("failed to create data channel")
		return
	}
	dc.OnOpen(func() {
		atomic.AddInt64(&p.stats.ChannelsOpened, 1)
		l.Info().Msg("data channel open")
		if err := dc.SendText(p.opts.Greeting); err != nil {
			l.Warn().Err(err).Msg("failed to send greeting")
		}
	})

	offer, err := pr.pc.CreateOffer(nil)
	if err != nil {
		l.Error().Err(err).Msg("failed to create offer")
		return
	}
	if err := pr.pc.SetLocalDescription(offer); err != nil {
		l.Error().Err(err).Msg("failed to set local description")
		return
	}
	p.sendDescription("offer", viewer, offer)
}

func (p *Probe) answer(from string, payload json.RawMessage) {
	l := p.log.With().Str("peer", from).Logger()

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		l.Warn().Err(err).Msg("malformed offer")
		return
	}

	pr, err := p.newPeer(from)
	if err != nil {
		l.Error().Err(err).Msg("failed to create peer")
		return
	}
	pr.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			atomic.AddInt64(&p.stats.ChannelsOpened, 1)
			l.Info().Str("label", dc.Label()).Msg("data channel open")
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			atomic.AddInt64(&p.stats.Messages, 1)
			l.Info().Str("data", string(msg.Data)).Msg("data channel message")
			if p.opts.ExitOnMessage {
				p.recvOnce.Do(func() { close(p.received) })
			}
		})
	})

	if err := pr.setRemoteDescription(desc); err != nil {
		l.Error().Err(err).Msg("failed to set remote description")
		return
	}
	answer, err := pr.pc.CreateAnswer(nil)
	if err != nil {
		l.Error().Err(err).Msg("failed to create answer")
		return
	}
	if err := pr.pc.SetLocalDescription(answer); err != nil {
		l.Error().Err(err).Msg("failed to set local description")
		return
	}
	p.sendDescription("answer", from, answer)
}

func (p *Probe) acceptAnswer(from string, payload json.RawMessage) {
	l := p.log.With().Str("peer", from).Logger()

	pr := p.peer(from)
	if pr == nil {
		l.Debug().Msg("answer for unknown peer")
		return
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		l.Warn().Err(err).Msg("malformed answer")
		return
	}
	if err := pr.setRemoteDescription(desc); err != nil {
		l.Error().Err(err).Msg("failed to set remote description")
	}
}

func (p *Probe) addCandidate(from string, payload json.RawMessage) {
	pr := p.peer(from)
	if pr == nil {
		return
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &c); err != nil {
		p.log.Warn().Err(err).Str("peer", from).Msg("malformed candidate")
		return
	}
	if err := pr.addCandidate(c); err != nil {
		p.log.Warn().Err(err).Str("peer", from).Msg("failed to add candidate")
	}
}

func (p *Probe) sendDescription(typ, target string, desc webrtc.SessionDescription) {
	payload, err := json.Marshal(desc)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to marshal session description")
		return
	}
	if err := p.send(outFrame{Type: typ, SessionID: p.opts.SessionID, TargetID: target, Payload: payload}); err != nil {
		p.log.Warn().Err(err).Str("peer", target).Msgf("failed to send %s", typ)
	}
}

func (p *Probe) send(f outFrame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(f)
}

func (p *Probe) shutdown() {
	p.mu.Lock()
	peers := p.peers
	p.peers = make(map[string]*peer)
	p.mu.Unlock()
	for _, pr := range peers {
		pr.close()
	}

	_ = p.send(outFrame{Type: "leave", SessionID: p.opts.SessionID, Role: p.opts.Role.String()})
	p.writeMu.Lock()
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	p.writeMu.Unlock()
	_ = p.conn.Close()
}
