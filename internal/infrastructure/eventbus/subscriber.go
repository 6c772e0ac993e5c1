package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
	emojiusecase "emojivote/internal/usecase/emoji"
)

type Enqueuer interface {
	Enqueue(ev emojiusecase.Event) error
}

type Options struct {
	URL     string
	Subject string
	// Queue is the queue group shared by all replicas; empty subscribes every replica.
	Queue string
	Name  string
}

// Subscriber feeds events published on a NATS subject into the dispatcher.
// Requests with a reply subject are answered with "ok" or the error text.
type Subscriber struct {
	opts     Options
	enqueuer Enqueuer
}

func NewSubscriber(opts Options, enqueuer Enqueuer) *Subscriber {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "emojivote"
	}
	return &Subscriber{opts: opts, enqueuer: enqueuer}
}

func (s *Subscriber) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s.enqueuer == nil {
		return errors.New("event enqueuer is required")
	}
	if strings.TrimSpace(s.opts.Subject) == "" {
		return errors.New("nats subject is required")
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "infrastructure.eventbus"), slog.String("subject", s.opts.Subject))

	conn, err := nats.Connect(s.opts.URL,
		nats.Name(s.opts.Name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn(ctx, "nats disconnected", slog.Any("err", errs.Loggable(err)))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logging.Info(ctx, "nats reconnected", slog.String("url", conn.ConnectedUrl()))
		}),
	)
	if err != nil {
		return errs.Wrapf(err, "connect nats %s", s.opts.URL)
	}

	var sub *nats.Subscription
	if strings.TrimSpace(s.opts.Queue) != "" {
		sub, err = conn.QueueSubscribe(s.opts.Subject, s.opts.Queue, s.handler(ctx))
	} else {
		sub, err = conn.Subscribe(s.opts.Subject, s.handler(ctx))
	}
	if err != nil {
		conn.Close()
		return errs.Wrapf(err, "subscribe %s", s.opts.Subject)
	}
	logging.Info(ctx, "nats subscriber started", slog.String("queue", s.opts.Queue))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		logging.Warn(ctx, "nats unsubscribe failed", slog.Any("err", errs.Loggable(err)))
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
	logging.Info(ctx, "nats subscriber stopped")
	return nil
}

func (s *Subscriber) handler(ctx context.Context) nats.MsgHandler {
	return func(msg *nats.Msg) {
		reply := "ok"
		if err := s.accept(msg.Data); err != nil {
			logging.Warn(ctx, "nats event refused", slog.Any("err", errs.Loggable(err)))
			reply = "error: " + err.Error()
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond([]byte(reply)); err != nil {
			logging.Warn(ctx, "nats reply failed", slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (s *Subscriber) accept(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	return s.enqueuer.Enqueue(ev)
}

// DecodeEvent parses one normalized JSON event.
func DecodeEvent(data []byte) (emojiusecase.Event, error) {
	var ev emojiusecase.Event
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&ev); err != nil {
		return emojiusecase.Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev.Kind = emojiusecase.EventKind(strings.TrimSpace(string(ev.Kind)))
	if ev.Kind == "" {
		return emojiusecase.Event{}, errors.New("event kind is required")
	}
	return ev, nil
}

// Publish sends one event and waits for the subscriber's answer.
func Publish(ctx context.Context, url string, subject string, ev emojiusecase.Event) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "encode event")
	}
	conn, err := nats.Connect(url, nats.Name("emojivote-cli"), nats.Timeout(5*time.Second))
	if err != nil {
		return errs.Wrapf(err, "connect nats %s", url)
	}
	defer conn.Close()

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return errs.Wrapf(err, "request %s", subject)
	}
	if answer := string(msg.Data); answer != "ok" {
		return errors.New(strings.TrimPrefix(answer, "error: "))
	}
	return nil
}
