package webstream

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/geolog/internal/device"
	"nuha.dev/geolog/internal/sublist"
)

// Server upgrades dashboard connections to websockets and streams live-fix
// payloads for the devices each client asked to follow. Slow clients drop
// payloads instead of backpressuring ingestion.
type Server struct {
	subs   *sublist.SublistMap
	logger log.Logger
}

func NewServer(subs *sublist.SublistMap) *Server {
	o := &Server{subs: subs}
	o.logger = log.DefaultLogger
	o.logger.Context = log.NewContext(nil).Str("module", "webstream").Value()
	return o
}

func (ws *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		ws.logger.Error().Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "stream terminated")

	// first client message: list of raw device ids to follow
	macs := []string{}
	readCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	err = wsjson.Read(readCtx, c, &macs)
	if err != nil {
		ws.logger.Error().Err(err).Msg("error while reading subscription request")
		return
	}
	if len(macs) == 0 {
		c.Close(websocket.StatusPolicyViolation, "empty subscription list")
		return
	}

	wc := newClient(c)
	followed := make([]*sublist.Sublist, 0, len(macs))
	for _, mac := range macs {
		s, _ := ws.subs.GetSublist(device.Canonical(mac), true)
		s.Subscribe(wc)
		followed = append(followed, s)
	}
	wc.run(r.Context())
	for _, s := range followed {
		s.Unsubscribe(wc)
	}
	ws.logger.Debug().Uint64("pushed", atomic.LoadUint64(&wc.pushed)).Uint64("dropped", atomic.LoadUint64(&wc.dropped)).Msg("stream client gone")
}

type client struct {
	c       *websocket.Conn
	wch     chan []byte
	done    chan struct{}
	closed  uint32
	pushed  uint64
	dropped uint64
}

func newClient(c *websocket.Conn) *client {
	return &client{c: c, wch: make(chan []byte, 16), done: make(chan struct{})}
}

func (wc *client) run(ctx context.Context) {
	go wc.readloop(ctx)
	for {
		select {
		case data := <-wc.wch:
			err := wc.c.Write(ctx, websocket.MessageText, data)
			if err != nil {
				wc.closeErr()
				return
			}
		case <-wc.done:
			return
		}
	}
}

// readloop only exists to notice the peer going away.
func (wc *client) readloop(ctx context.Context) {
	for {
		_, _, err := wc.c.Read(ctx)
		if err != nil {
			wc.closeErr()
			return
		}
	}
}

func (wc *client) closeErr() {
	if atomic.CompareAndSwapUint32(&wc.closed, 0, 1) {
		close(wc.done)
	}
}

func (wc *client) Push(id device.ID, data []byte) bool {
	if wc.Closed() {
		return true
	}
	select {
	case wc.wch <- data:
		atomic.AddUint64(&wc.pushed, 1)
	default:
		atomic.AddUint64(&wc.dropped, 1)
	}
	return false
}

func (wc *client) Closed() bool {
	return atomic.LoadUint32(&wc.closed) == 1
}
