package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/linchenxuan/slingshot/action"
	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/linchenxuan/slingshot/network/transport"
	uuid "github.com/satori/go.uuid"
)

// ResourceName names resource transfers that carry an encoded action.
const ResourceName = "Action"

var _actionDims sync.Map // string -> metrics.Dimension

// actionDim returns the dispatch metric dimension of a. Music messages share one label because
// their description includes the timestamp count.
func actionDim(a action.Action) metrics.Dimension {
	label := action.Describe(a)
	if _, ok := a.(action.StartGameMusic); ok {
		label = "startGameMusic"
	}
	if v, ok := _actionDims.Load(label); ok {
		return v.(metrics.Dimension)
	}
	v, _ := _actionDims.LoadOrStore(label, metrics.Dimension{metrics.DimAction: label})
	return v.(metrics.Dimension)
}

// Send delivers a to every connected peer. It is a no-op without peers. Encoding errors are
// returned and nothing is sent.
func (s *Session) Send(a action.Action) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	// Links are collected on the session goroutine; sending itself only queues.
	return s.call(func() error {
		links := make([]Link, 0, len(s.peers))
		for _, m := range s.peers {
			links = append(links, m.link)
		}
		return s.deliver(a, payload, links)
	})
}

// SendTo delivers a to one connected peer.
func (s *Session) SendTo(a action.Action, p peer.Player) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	return s.call(func() error {
		m, ok := s.peers[p.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, p)
		}
		return s.deliver(a, payload, []Link{m.link})
	})
}

// encode runs outside the session goroutine so a large physics packet does not stall it.
func encode(a action.Action) ([]byte, error) {
	payload, err := action.Encode(a)
	if err != nil {
		log.Error().Err(err).Str("action", action.Describe(a)).Msg("encode action")
		metrics.IncrCounterWithGroup(metrics.NameActionEncodeFailTotal, metrics.GroupSlingshot, 1)
		return nil, err
	}
	return payload, nil
}

// deliver sends payload inline, or as a resource above LargePayload. Per-link failures are
// joined; the other links still receive the action.
func (s *Session) deliver(a action.Action, payload []byte, links []Link) error {
	if len(links) == 0 {
		return nil
	}
	if action.IsPhysics(a) {
		log.Debug().Int("bytes", len(payload)).Int("peers", len(links)).Msg("sending physics sync")
	} else {
		log.Debug().Str("action", action.Describe(a)).Int("bytes", len(payload)).Int("peers", len(links)).Msg("sending action")
	}
	if len(payload) > s.cfg.LargePayload {
		return s.deliverLarge(payload, links)
	}
	var errs []error
	for _, l := range links {
		if err := l.SendAction(payload); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", l.Remote(), err))
		}
	}
	return errors.Join(errs...)
}

// deliverLarge spools payload to a temporary file and streams it to every link. The file is
// removed once the last transfer finished, successfully or not.
func (s *Session) deliverLarge(payload []byte, links []Link) error {
	path := filepath.Join(s.cfg.Transport.TempDir, "slingshot-"+uuid.NewV4().String())
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("spool large action: %w", err)
	}
	// Every done callback runs exactly once, so the last one removes the file.
	var remaining atomic.Int32
	remaining.Store(int32(len(links)))
	for _, l := range links {
		remote := l.Remote()
		l.SendResource(path, ResourceName, func(err error) {
			if err != nil {
				log.Warn().Err(err).Stringer("peer", remote).Msg("large action not delivered")
			}
			if remaining.Add(-1) == 0 {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					log.Error().Err(err).Str("path", path).Msg("remove spooled action")
				}
			}
		})
	}
	return nil
}

// receive decodes one action from l and hands it to the application.
func (s *Session) receive(l Link, payload []byte) {
	p := l.Remote()
	m, ok := s.peers[p.ID]
	// A replaced link may still deliver a few frames; only the current one counts.
	if !ok || m.link != l {
		log.Info().Stringer("peer", p).Int("bytes", len(payload)).Msg("action from unknown peer, dropping")
		return
	}
	a, err := action.Decode(payload)
	if err != nil {
		log.Warn().Err(err).Stringer("peer", p).Int("bytes", len(payload)).Msg("undecodable action, dropping")
		metrics.IncrCounterWithGroup(metrics.NameActionDecodeFailTotal, metrics.GroupSlingshot, 1)
		return
	}
	if action.IsPhysics(a) {
		log.Debug().Stringer("peer", p).Int("bytes", len(payload)).Msg("received physics sync")
	} else {
		log.Debug().Stringer("peer", p).Str("action", action.Describe(a)).Msg("received action")
	}
	metrics.IncrCounterWithDimGroup(metrics.NameActionDispatchTotal, metrics.GroupSlingshot, 1, actionDim(a))
	s.emit(Event{Kind: Command, Player: m.player, Command: GameCommand{Player: m.player, Action: a}})
}

// receiveResource reads a spooled action and removes the file.
func (s *Session) receiveResource(l Link, res *transport.Resource) {
	if res == nil {
		return
	}
	defer func() {
		if err := os.Remove(res.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", res.Path).Msg("remove received resource")
		}
	}()
	if res.Name != ResourceName {
		log.Info().Stringer("peer", l.Remote()).Str("resource", res.Name).Msg("unexpected resource, dropping")
		return
	}
	if res.Size > s.cfg.Transport.MaxResource {
		log.Warn().Stringer("peer", l.Remote()).Int64("size", res.Size).Msg("resource too large, dropping")
		return
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		log.Error().Err(err).Str("path", res.Path).Msg("read received resource")
		return
	}
	s.receive(l, data)
}
