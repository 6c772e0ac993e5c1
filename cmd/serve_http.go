package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"emojivote/internal/bootstrap/config"
	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/infrastructure/eventbus"
	"emojivote/internal/usecase/dispatch"
	emojiusecase "emojivote/internal/usecase/emoji"
)

const maxEventBodyBytes = 1 << 20

type eventSink interface {
	Enqueue(ev emojiusecase.Event) error
}

type imageSource interface {
	Get(ctx context.Context, sha1 string) (domainemoji.Image, error)
}

type serveHandlerConfig struct {
	SigningSecret string
	Reactions     config.ReactionsConfig
	// ProposalChannels accept top-level image posts as proposals. DMs always do.
	ProposalChannels []string
	Metrics          http.Handler
}

type serveHTTPHandler struct {
	sink   eventSink
	images imageSource
	cfg    serveHandlerConfig
	logCtx context.Context
}

type serveErrorResponse struct {
	Error string `json:"error"`
}

type serveStatusResponse struct {
	Status string `json:"status"`
}

func newServeHandler(ctx context.Context, sink eventSink, images imageSource, cfg serveHandlerConfig) http.Handler {
	h := &serveHTTPHandler{
		sink:   sink,
		images: images,
		cfg:    cfg,
		logCtx: logging.WithAttrs(ctx, slog.String("component", "cmd.serve.slack")),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(ctx))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeServeJSON(w, http.StatusOK, serveStatusResponse{Status: "ok"})
	})
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	router.Get("/images/{sha1}", h.handleImage)
	router.Post("/events", h.handleEvent)
	router.Post("/slack/events", h.handleSlackEvent)
	return router
}

func requestLogger(ctx context.Context) func(http.Handler) http.Handler {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "cmd.serve.http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logging.Debug(logCtx, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(started)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func (h *serveHTTPHandler) handleImage(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		writeServeError(w, http.StatusInternalServerError, "image store is not configured")
		return
	}
	image, err := h.images.Get(r.Context(), chi.URLParam(r, "sha1"))
	if err != nil {
		if errors.Is(err, domainemoji.ErrImageNotFound) {
			writeServeError(w, http.StatusNotFound, "image not found")
			return
		}
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(image.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(image.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image.Data)
}

func (h *serveHTTPHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		writeServeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}
	ev, err := eventbus.DecodeEvent(payload)
	if err != nil {
		writeServeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.enqueue(w, ev)
}

func (h *serveHTTPHandler) handleSlackEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		writeServeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}
	if err := verifySlackRequest(r.Header, h.cfg.SigningSecret, payload); err != nil {
		writeServeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	outer, err := slackevents.ParseEvent(json.RawMessage(payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		if !json.Valid(payload) {
			writeServeError(w, http.StatusBadRequest, "invalid json payload")
			return
		}
		// Inner event types slackevents does not model are acknowledged and dropped.
		logging.Debug(h.logCtx, "slack event not parsed", slog.Any("err", errs.Loggable(err)))
		writeServeJSON(w, http.StatusOK, serveStatusResponse{Status: "ignored"})
		return
	}

	switch outer.Type {
	case slackevents.URLVerification:
		verification, ok := outer.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			writeServeError(w, http.StatusBadRequest, "invalid url_verification payload")
			return
		}
		writeServeJSON(w, http.StatusOK, map[string]string{"challenge": verification.Challenge})
		return
	case slackevents.CallbackEvent:
	default:
		writeServeJSON(w, http.StatusOK, serveStatusResponse{Status: "ignored"})
		return
	}

	var eventID string
	if callback, ok := outer.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = callback.EventID
	}

	var (
		ev emojiusecase.Event
		ok bool
	)
	switch inner := outer.InnerEvent.Data.(type) {
	case *slackevents.ReactionAddedEvent:
		ev, ok = slackReactionEvent(h.cfg.Reactions, eventID, true, inner.User, inner.Reaction, inner.Item)
	case *slackevents.ReactionRemovedEvent:
		ev, ok = slackReactionEvent(h.cfg.Reactions, eventID, false, inner.User, inner.Reaction, inner.Item)
	case *slackevents.MessageEvent:
		ev, ok = slackFileShareEvent(h.cfg.ProposalChannels, eventID, inner)
	}
	if !ok {
		writeServeJSON(w, http.StatusOK, serveStatusResponse{Status: "ignored"})
		return
	}
	h.enqueue(w, ev)
}

func (h *serveHTTPHandler) enqueue(w http.ResponseWriter, ev emojiusecase.Event) {
	if h.sink == nil {
		writeServeError(w, http.StatusInternalServerError, "event queue is not configured")
		return
	}
	if err := h.sink.Enqueue(ev); err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
			writeServeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeServeJSON(w, http.StatusAccepted, serveStatusResponse{Status: "queued"})
}

// slackReactionEvent maps a reaction on a message to an inbound event.
// Reactions the service does not track are dropped.
func slackReactionEvent(reactions config.ReactionsConfig, eventID string, added bool, user string, reaction string, item slackevents.Item) (emojiusecase.Event, bool) {
	if item.Type != "" && item.Type != "message" {
		return emojiusecase.Event{}, false
	}
	if idx := strings.Index(reaction, "::"); idx >= 0 {
		reaction = reaction[:idx]
	}
	if reaction == "" || item.Timestamp == "" {
		return emojiusecase.Event{}, false
	}

	ev := emojiusecase.Event{
		ID:      eventID,
		Thread:  item.Timestamp,
		Channel: item.Channel,
		Actor:   user,
	}
	pick := func(onAdd emojiusecase.EventKind, onRemove emojiusecase.EventKind) emojiusecase.EventKind {
		if added {
			return onAdd
		}
		return onRemove
	}

	switch reaction {
	case reactions.Up, reactions.Down:
		ev.Kind = pick(emojiusecase.EventVoteAdded, emojiusecase.EventVoteRemoved)
		ev.Payload = map[string]string{"vote": reaction}
	case reactions.Report:
		ev.Kind = pick(emojiusecase.EventReportAdded, emojiusecase.EventReportRemoved)
	case reactions.Force:
		ev.Kind = pick(emojiusecase.EventForceAdded, emojiusecase.EventForceRemoved)
	case reactions.Block:
		ev.Kind = pick(emojiusecase.EventBlockAdded, emojiusecase.EventBlockRemoved)
	case reactions.Withdraw:
		ev.Kind = pick(emojiusecase.EventWithdrawAdded, emojiusecase.EventWithdrawRemoved)
	default:
		return emojiusecase.Event{}, false
	}
	return ev, true
}

// slackFileShareEvent turns a top-level post of a single image in a DM or a
// proposal channel into a proposal request. The image is downloaded by the
// worker, so the payload only carries its private URL.
func slackFileShareEvent(proposalChannels []string, eventID string, msg *slackevents.MessageEvent) (emojiusecase.Event, bool) {
	if msg == nil || msg.BotID != "" || msg.User == "" || len(msg.Files) != 1 {
		return emojiusecase.Event{}, false
	}
	if msg.ThreadTimeStamp != "" && msg.ThreadTimeStamp != msg.TimeStamp {
		return emojiusecase.Event{}, false
	}
	if msg.ChannelType != "im" && msg.ChannelType != "mpim" && !containsString(proposalChannels, msg.Channel) {
		return emojiusecase.Event{}, false
	}

	file := msg.Files[0]
	fileURL := file.URLPrivateDownload
	if fileURL == "" {
		fileURL = file.URLPrivate
	}
	if fileURL == "" || file.Name == "" {
		return emojiusecase.Event{}, false
	}
	return emojiusecase.Event{
		ID:      eventID,
		Kind:    emojiusecase.EventProposal,
		Channel: msg.Channel,
		Actor:   msg.User,
		Payload: map[string]string{
			"type":         "emoji",
			"file_name":    file.Name,
			"content_type": file.Mimetype,
			"file_url":     fileURL,
			"comment":      strings.TrimSpace(msg.Text),
		},
	}, true
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == want {
			return true
		}
	}
	return false
}

// verifySlackRequest checks the v0 request signature. An empty secret
// disables the check.
func verifySlackRequest(header http.Header, secret string, payload []byte) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	verifier, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return errs.Wrap(err, "verify slack request")
	}
	if _, err := verifier.Write(payload); err != nil {
		return errs.Wrap(err, "verify slack request")
	}
	if err := verifier.Ensure(); err != nil {
		return errors.New("verify slack request: signature mismatch")
	}
	return nil
}

func writeServeError(w http.ResponseWriter, status int, message string) {
	writeServeJSON(w, status, serveErrorResponse{Error: message})
}

func writeServeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
