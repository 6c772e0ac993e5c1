package emoji

import (
	"context"
	"errors"
	"testing"
	"time"

	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/infrastructure/memory"
	sqliterepo "emojivote/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "emojivote/internal/infrastructure/persistence/sqlite/uow"
	"emojivote/internal/ports"
)

func TestSweepAcceptsWinningProposal(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")
	f.vote(t, proposal, domainemoji.AuditVoteUp, users("U", 7)...)
	f.vote(t, proposal, domainemoji.AuditVoteDown, "UZ")

	if got := f.state(t, proposal.ID); got != domainemoji.StateNew {
		t.Fatalf("state during comment period = %s, want new", got)
	}

	f.clock.Set(wednesdayNine)
	report, err := f.svc.Sweep(ctx, wednesdayNine)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Evaluated != 1 || report.Accepted != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateAccepted {
		t.Fatalf("state = %s, want accepted", got)
	}
	if calls := f.dir.Calls(); len(calls) != 1 || calls[0] != "add:party" {
		t.Fatalf("directory calls = %v, want [add:party]", calls)
	}
	if n := f.countAction(t, proposal.ID, domainemoji.AuditSystemUpload); n != 1 {
		t.Fatalf("system:upload entries = %d, want 1", n)
	}
	mirror, err := f.repo.GetMirrorEntry(ctx, "party")
	if err != nil || mirror.ProposalID != proposal.ID || mirror.FileRef != proposal.FileRef {
		t.Fatalf("mirror = %+v, err = %v", mirror, err)
	}
	if len(f.messagesContaining("The community has spoken")) != 1 {
		t.Fatalf("expected acceptance notice")
	}
	added := f.messagesContaining(":party: has been added.")
	if len(added) != 1 || !added[0].Broadcast {
		t.Fatalf("expected broadcast success message, got %+v", added)
	}

	again, err := f.svc.Sweep(ctx, wednesdayNine.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if again.Evaluated != 0 || len(f.dir.Calls()) != 1 {
		t.Fatalf("second sweep must be a no-op: %+v calls=%v", again, f.dir.Calls())
	}
}

func TestNetEqualToWinByWaits(t *testing.T) {
	f := setupFixture(t)
	proposal := f.proposeEmoji(t, "party.png")
	f.vote(t, proposal, domainemoji.AuditVoteUp, users("U", 5)...)

	eval, err := f.svc.Recompute(context.Background(), proposal.ID, wednesdayNine)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if eval.Decision != domainemoji.DecisionWait || eval.Transitioned {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestBlockedProposalNeverTransitions(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")
	f.vote(t, proposal, domainemoji.AuditVoteUp, users("U", 8)...)
	f.vote(t, proposal, domainemoji.AuditAdminBlock, testAdmin)

	for _, now := range []time.Time{wednesdayNine, fridayTen, fridayTen.AddDate(0, 1, 0)} {
		f.clock.Set(now)
		eval, err := f.svc.Recompute(ctx, proposal.ID, now)
		if err != nil {
			t.Fatalf("Recompute(%s) error = %v", now, err)
		}
		if eval.Decision != domainemoji.DecisionBlocked || eval.Transitioned {
			t.Fatalf("evaluation at %s = %+v, want blocked", now, eval)
		}
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateNew {
		t.Fatalf("state = %s, want new", got)
	}
	if calls := f.dir.Calls(); len(calls) != 0 {
		t.Fatalf("blocked proposal reached the directory: %v", calls)
	}

	f.clock.Set(mondayTen)
	f.vote(t, proposal, domainemoji.AuditAdminUnblock, testAdmin)
	eval, err := f.svc.Recompute(ctx, proposal.ID, wednesdayNine)
	if err != nil {
		t.Fatalf("Recompute() after unblock error = %v", err)
	}
	if eval.Decision != domainemoji.DecisionAccept || eval.Outcome == nil || !eval.Outcome.OK() {
		t.Fatalf("unblocked evaluation = %+v", eval)
	}
}

func TestBlockRequiresAdmin(t *testing.T) {
	f := setupFixture(t)
	proposal := f.proposeEmoji(t, "party.png")

	_, err := f.svc.RecordVote(context.Background(), VoteInput{Thread: proposal.Thread, Actor: "U1", Action: domainemoji.AuditAdminBlock})
	if !errors.Is(err, domainemoji.ErrNotAdmin) {
		t.Fatalf("error = %v, want ErrNotAdmin", err)
	}
}

func TestSweepRejectsAfterVotingCloses(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")
	f.vote(t, proposal, domainemoji.AuditVoteUp, "U1", "U2")

	f.clock.Set(fridayTen)
	report, err := f.svc.Sweep(ctx, fridayTen)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Rejected != 1 || report.Accepted != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateRejected {
		t.Fatalf("state = %s, want rejected", got)
	}
	if n := f.countAction(t, proposal.ID, domainemoji.AuditSystemReject); n != 1 {
		t.Fatalf("system:reject entries = %d, want 1", n)
	}
	if len(f.messagesContaining("Voting is now closed.")) != 1 {
		t.Fatalf("expected closing notice")
	}

	if _, err := f.svc.RecordVote(ctx, VoteInput{Thread: proposal.Thread, Actor: "U3", Action: domainemoji.AuditVoteUp}); !errors.Is(err, domainemoji.ErrInvalidState) {
		t.Fatalf("vote on closed proposal error = %v, want ErrInvalidState", err)
	}
}

func TestAutoReportHappensOnce(t *testing.T) {
	f := setupFixture(t)
	proposal := f.proposeEmoji(t, "party.png")

	f.vote(t, proposal, domainemoji.AuditVoteDown, "D1", "D2")
	if n := f.countAction(t, proposal.ID, domainemoji.AuditSystemReport); n != 0 {
		t.Fatalf("reported below threshold")
	}

	result, err := f.svc.RecordVote(context.Background(), VoteInput{Thread: proposal.Thread, Actor: "D3", Action: domainemoji.AuditVoteDown})
	if err != nil {
		t.Fatalf("RecordVote() error = %v", err)
	}
	if !result.AutoReported || result.Tally.SystemReport != 1 {
		t.Fatalf("expected auto report, got %+v", result)
	}
	f.vote(t, proposal, domainemoji.AuditVoteDown, "D4", "D5")

	if n := f.countAction(t, proposal.ID, domainemoji.AuditSystemReport); n != 1 {
		t.Fatalf("system:report entries = %d, want 1", n)
	}
	flags := 0
	for _, reaction := range f.notifier.Reactions() {
		if reaction.Reaction == "triangular_flag_on_post" && reaction.Thread == proposal.Thread {
			flags++
		}
	}
	if flags != 1 {
		t.Fatalf("report flags = %d, want 1", flags)
	}
	notices := f.messagesContaining("Auto reporting")
	if len(notices) != 1 || notices[0].Channel != testAdmins {
		t.Fatalf("unexpected admin notices: %+v", notices)
	}
}

// txAwareNotifier records whether a reaction was added while a transaction was
// still open on the calling context.
type txAwareNotifier struct {
	*memory.Notifier
	flagsInTx int
}

func (n *txAwareNotifier) Flag(ctx context.Context, channel string, thread string, reaction string) error {
	if ports.TxFromContext(ctx) != nil {
		n.flagsInTx++
	}
	return n.Notifier.Flag(ctx, channel, thread, reaction)
}

func TestAutoReportFlagsThreadAfterCommit(t *testing.T) {
	f := setupFixture(t)
	notifier := &txAwareNotifier{Notifier: memory.NewNotifier()}
	svc := NewService(
		f.repo,
		sqliteuow.NewUnitOfWork(f.db),
		f.cache,
		f.dir,
		sqliterepo.NewImageStore(f.db),
		notifier,
		Options{
			Rules:        testRules(),
			EmojiChannel: testChannel,
			AdminChannel: testAdmins,
			Reactions:    testReactions(),
			Now:          f.clock.Now,
		},
	)
	ctx := context.Background()
	proposed, err := svc.ProposeEmoji(ctx, ProposeEmojiInput{Requester: testAuthor, FileName: "party.png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("ProposeEmoji() error = %v", err)
	}

	var last VoteResult
	for _, actor := range []string{"D1", "D2", "D3"} {
		last, err = svc.RecordVote(ctx, VoteInput{Thread: proposed.Proposal.Thread, Actor: actor, Action: domainemoji.AuditVoteDown})
		if err != nil {
			t.Fatalf("RecordVote(%s) error = %v", actor, err)
		}
	}
	if !last.AutoReported {
		t.Fatalf("expected auto report, got %+v", last)
	}
	if notifier.flagsInTx != 0 {
		t.Fatalf("flags added inside a transaction = %d, want 0", notifier.flagsInTx)
	}
	flagged := false
	for _, reaction := range notifier.Reactions() {
		if reaction.Reaction == "triangular_flag_on_post" && reaction.Thread == proposed.Proposal.Thread {
			flagged = true
		}
	}
	if !flagged {
		t.Fatalf("expected report flag on the proposal thread, got %+v", notifier.Reactions())
	}
}

func TestFirstUserReportNotifiesAdmins(t *testing.T) {
	f := setupFixture(t)
	proposal := f.proposeEmoji(t, "party.png")
	f.vote(t, proposal, domainemoji.AuditUserReport, "R1", "R2")

	notices := f.messagesContaining("reported a proposal")
	if len(notices) != 1 || notices[0].Channel != testAdmins {
		t.Fatalf("unexpected report notices: %+v", notices)
	}
	if n := f.countAction(t, proposal.ID, domainemoji.AuditUserReport); n != 2 {
		t.Fatalf("user:report entries = %d, want 2", n)
	}
}

func TestWithdrawIsOneWay(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	proposal := f.proposeEmoji(t, "party.png")

	ok, err := f.svc.Withdraw(ctx, proposal.Thread, "USOMEONE")
	if err != nil || ok {
		t.Fatalf("non-author withdraw = %v, %v", ok, err)
	}
	ok, err = f.svc.Withdraw(ctx, proposal.Thread, testAuthor)
	if err != nil || !ok {
		t.Fatalf("author withdraw = %v, %v", ok, err)
	}
	ok, err = f.svc.Withdraw(ctx, proposal.Thread, testAuthor)
	if err != nil || ok {
		t.Fatalf("second withdraw = %v, %v", ok, err)
	}
	if got := f.state(t, proposal.ID); got != domainemoji.StateWithdrawn {
		t.Fatalf("state = %s, want withdrawn", got)
	}
	if n := f.countAction(t, proposal.ID, domainemoji.AuditSystemWithdraw); n != 1 {
		t.Fatalf("system:withdraw entries = %d, want 1", n)
	}

	f.clock.Set(wednesdayNine)
	report, err := f.svc.Sweep(ctx, wednesdayNine)
	if err != nil || report.Evaluated != 0 {
		t.Fatalf("withdrawn proposal must not be swept: %+v, %v", report, err)
	}
}
