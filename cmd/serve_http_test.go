package cmd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"

	"emojivote/internal/bootstrap/config"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/usecase/dispatch"
	emojiusecase "emojivote/internal/usecase/emoji"
)

type stubEventSink struct {
	events []emojiusecase.Event
	err    error
}

func (s *stubEventSink) Enqueue(ev emojiusecase.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type stubImageSource struct {
	images map[string]domainemoji.Image
}

func (s stubImageSource) Get(_ context.Context, sha1 string) (domainemoji.Image, error) {
	image, ok := s.images[sha1]
	if !ok {
		return domainemoji.Image{}, fmt.Errorf("%w: %s", domainemoji.ErrImageNotFound, sha1)
	}
	return image, nil
}

var testSlackNow = time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)

func testReactions() config.ReactionsConfig {
	return config.ReactionsConfig{
		Up:       "white_check_mark",
		Down:     "x",
		Force:    "large_green_circle",
		Block:    "no_entry_sign",
		Withdraw: "rewind",
		Report:   "triangular_flag_on_post",
	}
}

func newTestServeHandler(sink eventSink, secret string) http.Handler {
	return newServeHandler(context.Background(), sink, stubImageSource{images: map[string]domainemoji.Image{
		"abc": {SHA1: "abc", ContentType: "image/png", Data: []byte("png-bytes")},
	}}, serveHandlerConfig{
		SigningSecret:    secret,
		Reactions:        testReactions(),
		ProposalChannels: []string{"CPROPOSE"},
	})
}

func testSlackSignature(secret string, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + timestamp + ":"))
	_, _ = mac.Write(payload)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func slackRequest(secret string, payload string) *http.Request {
	return slackRequestAt(secret, payload, time.Now())
}

func slackRequestAt(secret string, payload string, at time.Time) *http.Request {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(payload))
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", testSlackSignature(secret, timestamp, []byte(payload)))
	return req
}

func TestServeSlackURLVerification(t *testing.T) {
	t.Parallel()

	handler := newTestServeHandler(&stubEventSink{}, "signing-secret")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, slackRequest("signing-secret", `{"type":"url_verification","challenge":"abc123"}`))

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.Code, resp.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["challenge"] != "abc123" {
		t.Fatalf("challenge = %q, want abc123", body["challenge"])
	}
}

func TestServeSlackReactionQueuesVote(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "signing-secret")
	payload := `{"type":"event_callback","event_id":"Ev1","event":{"type":"reaction_added","user":"U1","reaction":"x::skin-tone-2","item":{"type":"message","channel":"C1","ts":"1717400000.000100"}}}`

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, slackRequest("signing-secret", payload))

	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.Code, resp.Body.String())
	}
	if len(sink.events) != 1 {
		t.Fatalf("queued %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Kind != emojiusecase.EventVoteAdded || ev.ID != "Ev1" || ev.Thread != "1717400000.000100" || ev.Actor != "U1" || ev.Channel != "C1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Payload["vote"] != "x" {
		t.Fatalf("vote payload = %q, want x", ev.Payload["vote"])
	}
}

func TestServeSlackRejectsBadSignature(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "signing-secret")
	req := slackRequest("other-secret", `{"type":"url_verification","challenge":"abc"}`)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestServeSlackIgnoresUntrackedReaction(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "")
	payload := `{"type":"event_callback","event_id":"Ev2","event":{"type":"reaction_added","user":"U1","reaction":"tada","item":{"type":"message","channel":"C1","ts":"1.2"}}}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(payload))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || len(sink.events) != 0 {
		t.Fatalf("status = %d events = %d, want 200 and none", resp.Code, len(sink.events))
	}
}

func TestServeSlackRejectsStaleAndUnsignedRequests(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "signing-secret")
	payload := `{"type":"url_verification","challenge":"abc"}`

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, slackRequestAt("signing-secret", payload, time.Now().Add(-10*time.Minute)))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("stale timestamp status = %d, want 401", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(payload)))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", resp.Code)
	}
}

func TestVerifySlackRequest(t *testing.T) {
	t.Parallel()

	payload := []byte(`{}`)
	req := slackRequestAt("secret", string(payload), time.Now())
	if err := verifySlackRequest(req.Header, "secret", payload); err != nil {
		t.Fatalf("verifySlackRequest() error = %v", err)
	}
	if err := verifySlackRequest(req.Header, "secret", []byte(`{"tampered":true}`)); err == nil {
		t.Fatalf("expected mismatch for a tampered body")
	}
	if err := verifySlackRequest(http.Header{}, "", payload); err != nil {
		t.Fatalf("empty secret must disable verification, got %v", err)
	}
}

func TestServeSlackUnknownInnerEventIsAcknowledged(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "")
	payload := `{"type":"event_callback","event_id":"Ev9","event":{"type":"not_a_real_event"}}`

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(payload)))
	if resp.Code != http.StatusOK || len(sink.events) != 0 {
		t.Fatalf("status = %d events = %d, want 200 and none", resp.Code, len(sink.events))
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{not json`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("malformed payload status = %d, want 400", resp.Code)
	}
}

func TestSlackReactionEventKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		added    bool
		reaction string
		want     emojiusecase.EventKind
	}{
		{true, "white_check_mark", emojiusecase.EventVoteAdded},
		{false, "x", emojiusecase.EventVoteRemoved},
		{true, "triangular_flag_on_post", emojiusecase.EventReportAdded},
		{true, "large_green_circle", emojiusecase.EventForceAdded},
		{false, "no_entry_sign", emojiusecase.EventBlockRemoved},
		{true, "rewind", emojiusecase.EventWithdrawAdded},
	}
	item := slackevents.Item{Type: "message", Channel: "C1", Timestamp: "1.1"}
	for _, tc := range cases {
		ev, ok := slackReactionEvent(testReactions(), "Ev1", tc.added, "U1", tc.reaction, item)
		if !ok || ev.Kind != tc.want {
			t.Fatalf("added=%t %s: got %q ok=%t, want %q", tc.added, tc.reaction, ev.Kind, ok, tc.want)
		}
	}

	fileItem := slackevents.Item{Type: "file", Timestamp: "1.1"}
	if _, ok := slackReactionEvent(testReactions(), "Ev1", true, "U1", "x", fileItem); ok {
		t.Fatalf("reactions on files must be ignored")
	}
}

func TestServeSlackFileShareQueuesProposal(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "signing-secret")
	payload := `{"type":"event_callback","event_id":"Ev3","event":{"type":"message","subtype":"file_share","user":"U1","text":"for the deploy channel","ts":"1717400000.000200","channel":"D1","channel_type":"im","files":[{"id":"F1","name":"shipit.gif","mimetype":"image/gif","url_private_download":"https://files.slack.test/F1/download/shipit.gif"}]}}`

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, slackRequest("signing-secret", payload))

	if resp.Code != http.StatusAccepted || len(sink.events) != 1 {
		t.Fatalf("status = %d events = %d, want 202 and one, body=%s", resp.Code, len(sink.events), resp.Body.String())
	}
	ev := sink.events[0]
	if ev.Kind != emojiusecase.EventProposal || ev.ID != "Ev3" || ev.Actor != "U1" || ev.Channel != "D1" || ev.Thread != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	want := map[string]string{
		"type":         "emoji",
		"file_name":    "shipit.gif",
		"content_type": "image/gif",
		"file_url":     "https://files.slack.test/F1/download/shipit.gif",
		"comment":      "for the deploy channel",
	}
	for key, value := range want {
		if ev.Payload[key] != value {
			t.Fatalf("payload[%s] = %q, want %q", key, ev.Payload[key], value)
		}
	}
}

func TestSlackFileShareEventFilters(t *testing.T) {
	t.Parallel()

	file := slackevents.File{Name: "shipit.png", Mimetype: "image/png", URLPrivate: "https://files.slack.test/F1"}
	base := func() *slackevents.MessageEvent {
		return &slackevents.MessageEvent{User: "U1", TimeStamp: "1.1", Channel: "D1", ChannelType: "im", Files: []slackevents.File{file}}
	}

	if ev, ok := slackFileShareEvent(nil, "Ev1", base()); !ok || ev.Payload["file_url"] != file.URLPrivate {
		t.Fatalf("DM image post should be a proposal, got %+v ok=%t", ev, ok)
	}

	inChannel := base()
	inChannel.Channel, inChannel.ChannelType = "CPROPOSE", "channel"
	if _, ok := slackFileShareEvent([]string{"CPROPOSE"}, "Ev1", inChannel); !ok {
		t.Fatalf("post in a proposal channel should be a proposal")
	}
	if _, ok := slackFileShareEvent([]string{"COTHER"}, "Ev1", inChannel); ok {
		t.Fatalf("post in an unrelated channel must be ignored")
	}

	reply := base()
	reply.ThreadTimeStamp = "0.9"
	if _, ok := slackFileShareEvent(nil, "Ev1", reply); ok {
		t.Fatalf("in-thread posts must be ignored")
	}

	two := base()
	two.Files = append(two.Files, file)
	if _, ok := slackFileShareEvent(nil, "Ev1", two); ok {
		t.Fatalf("posts with more than one file must be ignored")
	}

	bot := base()
	bot.BotID = "B1"
	if _, ok := slackFileShareEvent(nil, "Ev1", bot); ok {
		t.Fatalf("bot posts must be ignored")
	}

	text := base()
	text.Files = nil
	if _, ok := slackFileShareEvent(nil, "Ev1", text); ok {
		t.Fatalf("posts without files must be ignored")
	}
}

func TestServeEventsEndpoint(t *testing.T) {
	t.Parallel()

	sink := &stubEventSink{}
	handler := newTestServeHandler(sink, "")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"id":"e1","kind":"admin-tally-requested","actor":"UADMIN"}`)))
	if resp.Code != http.StatusAccepted || len(sink.events) != 1 || sink.events[0].Kind != emojiusecase.EventAdminTally {
		t.Fatalf("status = %d events = %+v", resp.Code, sink.events)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"id":"e2","kind":"x","bogus":1}`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", resp.Code)
	}

	full := &stubEventSink{err: fmt.Errorf("%w: x", dispatch.ErrQueueFull)}
	resp = httptest.NewRecorder()
	newTestServeHandler(full, "").ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"kind":"admin-tally-requested"}`)))
	if resp.Code != http.StatusServiceUnavailable || resp.Header().Get("Retry-After") == "" {
		t.Fatalf("queue full status = %d, want 503 with Retry-After", resp.Code)
	}
}

func TestServeImages(t *testing.T) {
	t.Parallel()

	handler := newTestServeHandler(&stubEventSink{}, "")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/images/abc", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != "png-bytes" || resp.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("image response = %d %q %q", resp.Code, resp.Body.String(), resp.Header().Get("Content-Type"))
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/images/missing", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing image status = %d, want 404", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.Code)
	}
}

func TestCLIVoteAction(t *testing.T) {
	t.Parallel()

	cases := map[string]domainemoji.AuditAction{
		"up":      domainemoji.AuditVoteUp,
		"DOWN":    domainemoji.AuditVoteDown,
		"report":  domainemoji.AuditUserReport,
		"block":   domainemoji.AuditAdminBlock,
		"unblock": domainemoji.AuditAdminUnblock,
	}
	for input, want := range cases {
		got, err := cliVoteAction(input)
		if err != nil || got != want {
			t.Fatalf("cliVoteAction(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := cliVoteAction("meh"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
