package emoji

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	domainemoji "emojivote/internal/domain/emoji"
	sqliterepo "emojivote/internal/infrastructure/persistence/sqlite/repository"
)

type stubAttachments struct {
	files map[string][]byte
	urls  []string
}

func (s *stubAttachments) FetchAttachment(_ context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	data, ok := s.files[url]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func TestHandleEventVoteRemovalAppendsOppositeVote(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	events := []Event{
		{ID: "e1", Kind: EventVoteAdded, Thread: proposal.Thread, Actor: "U1", Payload: map[string]string{"vote": "up"}},
		{ID: "e2", Kind: EventVoteRemoved, Thread: proposal.Thread, Actor: "U1", Payload: map[string]string{"vote": ":white_check_mark:"}},
		{ID: "e3", Kind: EventVoteAdded, Thread: proposal.Thread, Actor: "U2", Payload: map[string]string{"vote": "x"}},
	}
	for _, ev := range events {
		if err := f.svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", ev.ID, err)
		}
	}

	want := []domainemoji.AuditAction{
		domainemoji.AuditProposeNew,
		domainemoji.AuditVoteUp,
		domainemoji.AuditVoteDown,
		domainemoji.AuditVoteDown,
	}
	if got := f.actions(t, proposal.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("audit = %v, want %v", got, want)
	}
}

func TestHandleEventDedupesByID(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	ev := Event{ID: "dup", Kind: EventVoteAdded, Thread: proposal.Thread, Actor: "U1", Payload: map[string]string{"vote": "up"}}
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}
	if n := f.countAction(t, proposal.ID, domainemoji.AuditVoteUp); n != 1 {
		t.Fatalf("vote:up entries = %d, want 1", n)
	}
	if _, found, _ := f.cache.Get(ctx, "event:dup"); !found {
		t.Fatalf("expected dedupe key to be stored")
	}
}

func TestHandleEventConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	ev := Event{ID: "redelivered", Kind: EventVoteAdded, Thread: proposal.Thread, Actor: "U1", Payload: map[string]string{"vote": "up"}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.HandleEvent(ctx, ev); err != nil {
				t.Errorf("HandleEvent() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := f.countAction(t, proposal.ID, domainemoji.AuditVoteUp); n != 1 {
		t.Fatalf("vote:up entries = %d, want 1", n)
	}
}

func TestHandleEventIgnoresUnknownThreadsAndNonAdmins(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	ignored := []Event{
		{Kind: EventVoteAdded, Thread: "unknown", Actor: "U1", Payload: map[string]string{"vote": "up"}},
		{Kind: EventVoteAdded, Thread: proposal.Thread, Actor: "U1", Payload: map[string]string{"vote": "tada"}},
		{Kind: EventForceAdded, Thread: proposal.Thread, Actor: "U1"},
		{Kind: EventBlockAdded, Thread: proposal.Thread, Actor: "U1"},
		{Kind: EventAdminTally, Actor: "U1"},
		{Kind: EventReportRemoved, Thread: proposal.Thread, Actor: "U1"},
		{Kind: EventKind("something-else"), Actor: "U1"},
	}
	for _, ev := range ignored {
		if err := f.svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", ev.Kind, err)
		}
	}
	if got := f.actions(t, proposal.ID); len(got) != 1 {
		t.Fatalf("ignored events changed the audit log: %v", got)
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateNew {
		t.Fatalf("state = %s, want new", got)
	}
	if calls := f.dir.Calls(); len(calls) != 0 {
		t.Fatalf("directory calls = %v, want none", calls)
	}
}

func TestHandleEventBlockNotices(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	if err := f.svc.HandleEvent(ctx, Event{Kind: EventBlockAdded, Thread: proposal.Thread, Actor: testAdmin}); err != nil {
		t.Fatalf("block error = %v", err)
	}
	if err := f.svc.HandleEvent(ctx, Event{Kind: EventBlockRemoved, Thread: proposal.Thread, Actor: testAdmin}); err != nil {
		t.Fatalf("unblock error = %v", err)
	}
	if len(f.messagesContaining("<@UADMIN> has blocked this proposal. Voting may continue")) != 1 {
		t.Fatalf("expected block notice")
	}
	if len(f.messagesContaining("<@UADMIN> has unblocked this proposal.")) != 1 {
		t.Fatalf("expected unblock notice")
	}
}

func TestHandleEventWithdrawAndEphemeralNotes(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	for _, ev := range []Event{
		{Kind: EventWithdrawAdded, Thread: proposal.Thread, Actor: "U1"},
		{Kind: EventWithdrawAdded, Thread: proposal.Thread, Actor: testAuthor},
		{Kind: EventWithdrawRemoved, Thread: proposal.Thread, Actor: testAuthor, Channel: testChannel},
	} {
		if err := f.svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", ev.Kind, err)
		}
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateWithdrawn {
		t.Fatalf("state = %s, want withdrawn", got)
	}
	if len(f.messagesContaining("has withdrawn this proposal; it will no longer be considered.")) != 1 {
		t.Fatalf("expected withdraw notice")
	}
	notes := f.messagesContaining("You already withdrew this emoji.")
	if len(notes) != 1 || !notes[0].Ephemeral || notes[0].User != testAuthor {
		t.Fatalf("unexpected ephemeral notes: %+v", notes)
	}
}

func TestHandleEventForceAppliesProposal(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	if err := f.svc.HandleEvent(ctx, Event{Kind: EventForceAdded, Thread: proposal.Thread, Actor: testAdmin}); err != nil {
		t.Fatalf("force error = %v", err)
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateAccepted {
		t.Fatalf("state = %s, want accepted", got)
	}
	if err := f.svc.HandleEvent(ctx, Event{Kind: EventForceRemoved, Thread: proposal.Thread, Actor: testAdmin}); err != nil {
		t.Fatalf("force removed error = %v", err)
	}
	if len(f.messagesContaining("You already forced voted this emoji.")) != 1 {
		t.Fatalf("expected ephemeral force note")
	}
}

func TestHandleEventProposalRequests(t *testing.T) {
	f := setupFixture(t, "smile")
	ctx := context.Background()

	requests := []Event{
		{Kind: EventProposal, Actor: testAuthor, Payload: map[string]string{"file_name": "party.png"}, Attachment: []byte("png")},
		{Kind: EventProposal, Actor: testAuthor, Payload: map[string]string{"type": "alias", "canonical": "smile", "alias": "grin"}},
		{Kind: EventProposal, Actor: testAuthor, Payload: map[string]string{"type": "remove", "name": "smile"}, Channel: "CDM"},
	}
	for _, ev := range requests {
		if err := f.svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}

	proposals, err := f.repo.ListProposals(ctx, portsFilterAll())
	if err != nil {
		t.Fatalf("ListProposals() error = %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("proposals = %d, want 2", len(proposals))
	}
	rejections := f.messagesContaining("is a built-in emoji")
	if len(rejections) != 1 || !rejections[0].Ephemeral || rejections[0].Channel != "CDM" {
		t.Fatalf("expected ephemeral rejection in the requesting channel, got %+v", rejections)
	}
}

func TestHandleEventProposalDownloadsSharedFile(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	attachments := &stubAttachments{files: map[string][]byte{
		"https://files.slack.test/F1/shipit.png": []byte("png:shipit"),
	}}
	svc := f.newService()
	svc.opts.Attachments = attachments

	ev := Event{
		ID:      "Ev1",
		Kind:    EventProposal,
		Channel: "D1",
		Actor:   testAuthor,
		Payload: map[string]string{
			"type":         "emoji",
			"file_name":    "shipit.png",
			"content_type": "image/png",
			"file_url":     "https://files.slack.test/F1/shipit.png",
			"comment":      "for deploys",
		},
	}
	if err := svc.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(attachments.urls) != 1 {
		t.Fatalf("downloads = %v, want one", attachments.urls)
	}

	proposals, err := f.repo.ListProposals(ctx, portsFilterAll())
	if err != nil {
		t.Fatalf("ListProposals() error = %v", err)
	}
	if len(proposals) != 1 || proposals[0].Emoji != "shipit" {
		t.Fatalf("proposals = %+v, want shipit", proposals)
	}
	image, err := sqliterepo.NewImageStore(f.db).Get(ctx, proposals[0].FileRef)
	if err != nil || string(image.Data) != "png:shipit" {
		t.Fatalf("stored image = %q, %v", image.Data, err)
	}

	missing := ev
	missing.ID = "Ev2"
	missing.Payload = map[string]string{"file_name": "ghost.png", "file_url": "https://files.slack.test/F9/ghost.png"}
	if err := svc.HandleEvent(ctx, missing); err == nil {
		t.Fatalf("expected error when the shared file cannot be downloaded")
	}
	if _, found, _ := f.cache.Get(ctx, "event:Ev2"); found {
		t.Fatalf("failed download must release the dedupe key for redelivery")
	}
}

func TestHandleEventAdminRequests(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	if err := f.svc.HandleEvent(ctx, Event{Kind: EventAdminFakeVote, Actor: testAdmin, Payload: map[string]string{"proposal": proposal.ID, "vote": "down"}}); err != nil {
		t.Fatalf("fake vote error = %v", err)
	}
	if err := f.svc.HandleEvent(ctx, Event{Kind: EventAdminReset, Actor: testAdmin, Payload: map[string]string{"proposal": proposal.Thread, "state": "rejected"}}); err != nil {
		t.Fatalf("reset error = %v", err)
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateRejected {
		t.Fatalf("state = %s, want rejected", got)
	}
	if err := f.svc.HandleEvent(ctx, Event{Kind: EventAdminTally, Actor: testAdmin}); err != nil {
		t.Fatalf("tally error = %v", err)
	}
	if len(f.messagesContaining("Tallied 0 proposals")) != 1 {
		t.Fatalf("expected tally reply, got %+v", f.notifier.Messages())
	}
}

func TestHandleEventReleasesDedupeKeyOnFailure(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	err := f.svc.HandleEvent(ctx, Event{ID: "broken", Kind: EventVoteAdded, Thread: "t", Payload: map[string]string{"vote": "up"}})
	if !errors.Is(err, errActorRequired) {
		t.Fatalf("error = %v, want errActorRequired", err)
	}
	if _, found, _ := f.cache.Get(ctx, "event:broken"); found {
		t.Fatalf("failed events must not stay claimed")
	}
}

func TestResetAndFakeVote(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	if _, err := f.svc.Reset(ctx, ResetInput{Actor: "U1", ProposalRef: proposal.ID}); !errors.Is(err, domainemoji.ErrNotAdmin) {
		t.Fatalf("non-admin reset error = %v", err)
	}
	if _, err := f.svc.Reset(ctx, ResetInput{Actor: testAdmin, ProposalRef: proposal.ID, State: "sideways"}); !errors.Is(err, domainemoji.ErrInvalidState) {
		t.Fatalf("invalid state error = %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, proposal.Thread, testAuthor); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	reset, err := f.svc.Reset(ctx, ResetInput{Actor: testAdmin, ProposalRef: proposal.Thread})
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if reset.State != domainemoji.StateNew || f.state(t, proposal.ID) != domainemoji.StateNew {
		t.Fatalf("reset state = %s", reset.State)
	}
	entries, err := f.repo.ListAudit(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	last := entries[len(entries)-1]
	if last.Action != domainemoji.AuditAdminReset || last.Note != "state: withdrawn -> new" || last.Actor != testAdmin {
		t.Fatalf("unexpected reset entry: %+v", last)
	}

	if _, err := f.svc.FakeVote(ctx, FakeVoteInput{Actor: testAdmin, ProposalRef: proposal.ID, Vote: "sideways"}); !errors.Is(err, domainemoji.ErrInvalidVote) {
		t.Fatalf("invalid fake vote error = %v", err)
	}
	if _, err := f.svc.FakeVote(ctx, FakeVoteInput{Actor: "U1", ProposalRef: proposal.ID, Vote: "up"}); !errors.Is(err, domainemoji.ErrNotAdmin) {
		t.Fatalf("non-admin fake vote error = %v", err)
	}
	result, err := f.svc.FakeVote(ctx, FakeVoteInput{Actor: testAdmin, ProposalRef: proposal.ID, Vote: "BLOCK"})
	if err != nil {
		t.Fatalf("FakeVote() error = %v", err)
	}
	if result.Entry.Action != domainemoji.AuditAdminBlock || result.Entry.Actor != testAdmin || !result.Tally.Blocked() {
		t.Fatalf("unexpected fake vote: %+v", result)
	}
	if result.Entry.ID == "" {
		t.Fatalf("expected entry id")
	}
}
