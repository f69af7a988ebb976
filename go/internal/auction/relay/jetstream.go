// Package relay forwards public game events to a NATS JetStream stream so
// projectors and scoreboards outside this process can follow the game.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/auction/events"
)

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int
	DuplicateWindow time.Duration
	QueueSize       int
	PublishTimeout  time.Duration
	Skip            []events.Type // Public types that stay local
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "CODEBID_EVENTS",
		SubjectPrefix:   "codebid.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		QueueSize:       1000,
		PublishTimeout:  5 * time.Second,
		Skip:            []events.Type{events.TypeTimerTick},
	}
}

// streamPublisher is the slice of jetstream.JetStream the relay uses
type streamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Relay implements events.Publisher. Publish never blocks; events queue
// for a single worker and are dropped when the queue is full.
type Relay struct {
	nc     *nats.Conn
	js     streamPublisher
	config Config
	skip   map[events.Type]bool
	queue  chan *events.Event

	mu     sync.Mutex
	closed bool
}

// Connect dials NATS and makes sure the stream exists.
func Connect(ctx context.Context, cfg Config) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("codebid"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	r := newRelay(js, cfg)
	r.nc = nc
	return r, nil
}

func newRelay(js streamPublisher, cfg Config) *Relay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	skip := make(map[events.Type]bool, len(cfg.Skip))
	for _, t := range cfg.Skip {
		skip[t] = true
	}
	return &Relay{
		js:     js,
		config: cfg,
		skip:   skip,
		queue:  make(chan *events.Event, cfg.QueueSize),
	}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Public auction round events",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !streamConfigEqual(info.Config, sc) {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

func streamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

// Publish queues public events for the stream. Targeted events never
// leave the process.
func (r *Relay) Publish(to events.Audience, event *events.Event) {
	if !to.Public() || r.skip[event.Type] {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("relay queue full, dropping event")
	}
}

// Run drains the queue until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-r.queue:
			if !ok {
				return
			}
			if err := r.send(ctx, e); err != nil {
				log.Error().Err(err).
					Str("event_id", e.ID).
					Str("event_type", string(e.Type)).
					Msg("failed to relay event")
			}
		}
	}
}

func (r *Relay) send(ctx context.Context, e *events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	subject := Subject(r.config.SubjectPrefix, e.Type)
	ack, err := r.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(e.Type)},
			"Event-ID":   []string{e.ID},
			"Round-ID":   []string{e.RoundID},
			"Event-Seq":  []string{strconv.FormatUint(e.Seq, 10)},
		},
	},
		jetstream.WithMsgID(e.ID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", e.ID).
		Uint64("sequence", ack.Sequence).
		Msg("relayed event")
	return nil
}

// Connected reports whether the NATS connection is up.
func (r *Relay) Connected() bool {
	return r.nc != nil && r.nc.IsConnected()
}

// Close stops accepting events and drops the NATS connection.
func (r *Relay) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	if r.nc != nil {
		r.nc.Close()
	}
}

// Subject maps an event type onto the stream's subject space, so
// round:started becomes <prefix>.round.started.
func Subject(prefix string, t events.Type) string {
	return prefix + "." + strings.ReplaceAll(string(t), ":", ".")
}
