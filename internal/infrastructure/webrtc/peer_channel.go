package webrtc

import (
	"encoding/json"
	"sync"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// dataChannel adapts a pion data channel to the PeerChannel port.
// Inbound payloads stay undecoded; the router owns decoding.
type dataChannel struct {
	peerID domain.PeerID
	dc     *webrtc.DataChannel
	logger *zap.SugaredLogger

	mu        sync.Mutex
	onMessage func(data []byte)
	onClose   func(err error)
}

var _ ports.PeerChannel = (*dataChannel)(nil)

func (ch *dataChannel) PeerID() domain.PeerID {
	return ch.peerID
}

func (ch *dataChannel) Send(msg domain.Message) bool {
	if ch.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		ch.logger.Errorw("encode outbound message",
			"peer_id", ch.peerID,
			"type", msg.Type,
			"error", err,
		)
		return false
	}
	if err := ch.dc.SendText(string(data)); err != nil {
		ch.logger.Warnw("send on data channel",
			"peer_id", ch.peerID,
			"type", msg.Type,
			"error", err,
		)
		return false
	}
	return true
}

func (ch *dataChannel) OnMessage(fn func(data []byte)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

func (ch *dataChannel) OnClose(fn func(err error)) {
	ch.mu.Lock()
	ch.onClose = fn
	ch.mu.Unlock()
}

func (ch *dataChannel) Close() error {
	return ch.dc.Close()
}

func (ch *dataChannel) deliver(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (ch *dataChannel) closed(err error) {
	ch.mu.Lock()
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
