package buslistener

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/geolog/internal/ingest"
)

const (
	BUS_CONNECTED     string = "bus_connected"
	BUS_DISCONNECTED  string = "bus_disconnected"
	BUS_RECONNECTED   string = "bus_reconnected"
	MESSAGE_DROPPED   string = "message_dropped"
	MESSAGE_PROCESSED string = "message_processed"
)

// payload is the bus wire format. Pointer coordinates distinguish missing
// fields from zero.
type payload struct {
	Mac       string   `json:"mac"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Listener holds the long-lived bus subscription and feeds decoded fixes
// into the ingestion pipeline. A malformed message is dropped with a
// diagnostic; nothing a publisher sends can stop the receive loop. The bus
// client owns retry/backoff, subscriptions survive reconnects.
type Listener struct {
	nc       *nats.Conn
	topic    string
	pipeline *ingest.Pipeline
	logger   log.Logger
}

func NewListener(url string, topic string, pipeline *ingest.Pipeline) (*Listener, error) {
	l := &Listener{topic: topic, pipeline: pipeline}
	l.logger = log.DefaultLogger
	l.logger.Context = log.NewContext(nil).Str("module", "buslistener").Value()

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.logger.Warn().Err(err).Str("event", BUS_DISCONNECTED).Msg("")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.logger.Info().Str("event", BUS_RECONNECTED).Str("url", nc.ConnectedUrl()).Msg("")
		}))
	if err != nil {
		return nil, err
	}
	l.nc = nc
	return l, nil
}

// Run subscribes to the fix topic. It returns after the subscription is
// registered; delivery happens on the client's callback goroutine.
func (l *Listener) Run() error {
	_, err := l.nc.Subscribe(l.topic, l.handle)
	if err != nil {
		return err
	}
	l.logger.Info().Str("event", BUS_CONNECTED).Str("topic", l.topic).Msg("subscribed")
	return nil
}

func (l *Listener) handle(msg *nats.Msg) {
	p := payload{}
	err := json.Unmarshal(msg.Data, &p)
	if err != nil {
		l.logger.Warn().Err(err).Str("event", MESSAGE_DROPPED).Msg("undecodable payload")
		return
	}
	if p.Mac == "" || p.Latitude == nil || p.Longitude == nil {
		l.logger.Warn().Str("event", MESSAGE_DROPPED).Str("mac", p.Mac).Msg("missing mac or coordinates")
		return
	}
	sub := ingest.Submission{Mac: p.Mac, Latitude: *p.Latitude, Longitude: *p.Longitude, Logging: true}
	fix, err := l.pipeline.Submit(sub)
	if err != nil {
		l.logger.Warn().Err(err).Str("event", MESSAGE_DROPPED).Str("mac", p.Mac).Msg("pipeline rejected fix")
		return
	}
	l.logger.Debug().Str("event", MESSAGE_PROCESSED).EmbedObject(fix).Msg("")
}

func (l *Listener) Close() {
	l.nc.Close()
}
