package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Event stream names accepted in the ?streams= query.
const (
	StreamReadings    = "readings"
	StreamTests       = "tests"
	StreamReliability = "reliability"
	StreamLogs        = "logs"
)

// Envelope is one websocket message.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Command is a client request received over the websocket.
type Command struct {
	Command string `json:"command"`
	Channel int    `json:"channel"`
	On      bool   `json:"on"`
}

type commandReply struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func wanted(r *http.Request) map[string]bool {
	all := map[string]bool{StreamReadings: true, StreamTests: true, StreamReliability: true, StreamLogs: true}
	q := r.URL.Query().Get("streams")
	if q == "" {
		return all
	}
	out := make(map[string]bool)
	for _, name := range strings.Split(q, ",") {
		if all[name] {
			out[name] = true
		}
	}

	return out
}

// handleEvents upgrades to a websocket and forwards the selected streams until the client leaves.
// Clients may send Commands: set_relay, toggle_relay, all_relays_off and cancel_test.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan Envelope, 256)
	streams := wanted(r)
	if streams[StreamReadings] {
		sub := s.rig.SubscribeReadings(64)
		defer sub.Close()
		forward(ctx, sub.C(), out, StreamReadings)
	}
	if streams[StreamTests] {
		sub := s.rig.SubscribeTests(64)
		defer sub.Close()
		forward(ctx, sub.C(), out, StreamTests)
	}
	if streams[StreamReliability] {
		sub := s.rig.SubscribeReliability(16)
		defer sub.Close()
		forward(ctx, sub.C(), out, StreamReliability)
	}
	if streams[StreamLogs] {
		sub := s.rig.Journal().Subscribe(64)
		defer sub.Close()
		forward(ctx, sub.C(), out, StreamLogs)
	}

	go s.readCommands(ctx, cancel, conn, out)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// forward copies values from in to out as envelopes of type typ until ctx is done or in closes.
func forward[T any](ctx context.Context, in <-chan T, out chan<- Envelope, typ string) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Envelope{Type: typ, Time: time.Now(), Data: v}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- Envelope) {
	defer cancel()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		reply := commandReply{Command: cmd.Command, OK: true}
		if err := s.execute(cmd); err != nil {
			reply.OK, reply.Error = false, err.Error()
		}
		select {
		case out <- Envelope{Type: "reply", Time: time.Now(), Data: reply}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) execute(cmd Command) error {
	switch cmd.Command {
	case "set_relay":
		return s.rig.SetRelay(cmd.Channel, cmd.On)
	case "toggle_relay":
		_, err := s.rig.ToggleRelay(cmd.Channel)
		return err
	case "all_relays_off":
		return s.rig.SetAllRelays(false)
	case "cancel_test":
		s.rig.CancelTest()
		return nil
	default:
		return errUnknownCommand
	}
}
