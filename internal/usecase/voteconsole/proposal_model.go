package voteconsole

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	emojiusecase "emojivote/internal/usecase/emoji"
)

const maxShownEntries = 6
const maxActionLines = 8

// ProposalService is the part of the emoji service the console drives.
type ProposalService interface {
	ListOpen(ctx context.Context) ([]emojiusecase.ProposalStatus, error)
	AuditTrail(ctx context.Context, ref string) ([]domainemoji.AuditEntry, error)
	Force(ctx context.Context, ref string, actor string) (emojiusecase.ActionResult, error)
	FakeVote(ctx context.Context, input emojiusecase.FakeVoteInput) (emojiusecase.VoteResult, error)
	Sweep(ctx context.Context, now time.Time) (emojiusecase.SweepReport, error)
}

type Options struct {
	Actor           string
	RefreshInterval time.Duration
	Now             func() time.Time
}

type proposalModel struct {
	ctx             context.Context
	service         ProposalService
	actor           string
	refreshInterval time.Duration
	now             func() time.Time

	items         []emojiusecase.ProposalStatus
	selectedIndex int
	trail         []domainemoji.AuditEntry
	trailRef      string
	hasTrail      bool
	status        string
	actionLogs    []string
}

type proposalsLoadedMsg struct {
	items []emojiusecase.ProposalStatus
	err   error
}

type trailLoadedMsg struct {
	proposalID string
	entries    []domainemoji.AuditEntry
	err        error
}

type tickMsg struct{}

type actionDoneMsg struct {
	action     string
	proposalID string
	result     string
	err        error
}

func NewProposalModel(ctx context.Context, service ProposalService, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &proposalModel{
		ctx:             ctx,
		service:         service,
		actor:           strings.TrimSpace(options.Actor),
		refreshInterval: interval,
		now:             now,
		status:          "loading",
	}
}

func (m *proposalModel) Init() tea.Cmd {
	return tea.Batch(m.loadProposalsCmd(), m.tickCmd())
}

func (m *proposalModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadProposalsCmd(), m.tickCmd())
	case proposalsLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.items = msg.items
		if len(m.items) == 0 {
			m.selectedIndex = 0
			m.hasTrail = false
			m.status = "no open proposals"
			return m, nil
		}
		if m.selectedIndex >= len(m.items) {
			m.selectedIndex = len(m.items) - 1
		}
		if m.selectedIndex < 0 {
			m.selectedIndex = 0
		}
		m.status = fmt.Sprintf("refreshed, %d open", len(m.items))
		return m, m.loadTrailCmd()
	case trailLoadedMsg:
		selected, ok := m.selected()
		if !ok || selected.Proposal.ID != msg.proposalID {
			return m, nil
		}
		if msg.err != nil {
			m.hasTrail = false
			m.status = "audit trail failed: " + msg.err.Error()
			return m, nil
		}
		m.trail = msg.entries
		m.trailRef = msg.proposalID
		m.hasTrail = true
		return m, nil
	case actionDoneMsg:
		m.appendActionLog(msg.action, msg.proposalID, msg.result, msg.err)
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = fmt.Sprintf("%s done: %s", msg.action, msg.result)
		}
		return m, m.loadProposalsCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadProposalsCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadTrailCmd()
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.items)-1 {
				m.selectedIndex++
				return m, m.loadTrailCmd()
			}
			return m, nil
		case "+":
			return m, m.fakeVoteCmd("up")
		case "-":
			return m, m.fakeVoteCmd("down")
		case "b":
			return m, m.toggleBlockCmd()
		case "f":
			return m, m.forceCmd()
		case "t":
			return m, m.sweepCmd()
		}
	}
	return m, nil
}

func (m *proposalModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Emoji proposals"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf("actor=%s refresh=%s", firstNonEmpty(m.actor, "-"), m.refreshInterval)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Open"))
	builder.WriteString("\n")
	if len(m.items) == 0 {
		builder.WriteString(dimStyle.Render("- no proposals"))
		builder.WriteString("\n\n")
	} else {
		for index, item := range m.items {
			line := summaryLine(item)
			if index == m.selectedIndex {
				builder.WriteString(selectedStyle.Render("> " + line))
			} else {
				builder.WriteString("  " + line)
			}
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Detail"))
	builder.WriteString("\n")
	if selected, ok := m.selected(); !ok {
		builder.WriteString(dimStyle.Render("- no detail"))
		builder.WriteString("\n\n")
	} else {
		p := selected.Proposal
		builder.WriteString(fmt.Sprintf("Proposal: %s\n", p.ID))
		builder.WriteString(fmt.Sprintf("Thread: %s\n", firstNonEmpty(p.Permalink, p.Thread)))
		builder.WriteString(fmt.Sprintf("Author: %s\n", p.User))
		builder.WriteString(fmt.Sprintf("Comment period ends: %s\n", selected.CommentEnds.Format(time.RFC3339)))
		builder.WriteString(fmt.Sprintf("Voting closes: %s\n", selected.ClosesAt.Format(time.RFC3339)))
		builder.WriteString("\nAudit:\n")
		if !m.hasTrail || m.trailRef != p.ID || len(m.trail) == 0 {
			builder.WriteString("- none\n")
		} else {
			start := len(m.trail) - maxShownEntries
			if start < 0 {
				start = 0
			}
			for _, entry := range m.trail[start:] {
				line := fmt.Sprintf("- %s %s %s", entry.Date.Format("2006-01-02 15:04"), entry.Action, entry.Actor)
				if entry.Note != "" {
					line += " " + entry.Note
				}
				builder.WriteString(line + "\n")
			}
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Actions"))
	builder.WriteString("\n")
	if len(m.actionLogs) == 0 {
		builder.WriteString(dimStyle.Render("- no actions"))
		builder.WriteString("\n\n")
	} else {
		for _, line := range m.actionLogs {
			builder.WriteString("- " + line + "\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(dimStyle.Render("Keys: up/k down/j move  g refresh  +/- vote  b block  f force  t tally  q quit"))
	return builder.String()
}

func summaryLine(item emojiusecase.ProposalStatus) string {
	p := item.Proposal
	kind := "add"
	switch {
	case p.Action == domainemoji.ActionRemove:
		kind = "remove"
	case p.Alias:
		kind = "alias:" + p.Canonical
	}
	flags := make([]string, 0, 3)
	if item.InCommentPeriod {
		flags = append(flags, "comment")
	}
	if item.Blocked {
		flags = append(flags, "blocked")
	}
	if item.Passing {
		flags = append(flags, "passing")
	}
	if item.Malformed {
		flags = append(flags, "malformed")
	}
	return fmt.Sprintf(":%s: [%s] up=%d down=%d net=%d %s",
		p.Emoji, kind, item.Tally.Up, item.Tally.Down, item.Tally.Net(), strings.Join(flags, ","))
}

func (m *proposalModel) selected() (emojiusecase.ProposalStatus, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.items) {
		return emojiusecase.ProposalStatus{}, false
	}
	return m.items[m.selectedIndex], true
}

func (m *proposalModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *proposalModel) loadProposalsCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.service.ListOpen(m.ctx)
		return proposalsLoadedMsg{items: items, err: err}
	}
}

func (m *proposalModel) loadTrailCmd() tea.Cmd {
	selected, ok := m.selected()
	if !ok {
		return nil
	}
	id := selected.Proposal.ID
	return func() tea.Msg {
		entries, err := m.service.AuditTrail(m.ctx, id)
		return trailLoadedMsg{proposalID: id, entries: entries, err: err}
	}
}

func (m *proposalModel) requireActor() error {
	if m.actor == "" {
		return errors.New("console actor is not set")
	}
	return nil
}

func (m *proposalModel) fakeVoteCmd(vote string) tea.Cmd {
	selected, ok := m.selected()
	if !ok {
		m.status = "no proposal selected"
		return nil
	}
	id := selected.Proposal.ID
	m.status = "voting " + vote
	return func() tea.Msg {
		if err := m.requireActor(); err != nil {
			return actionDoneMsg{action: "vote:" + vote, proposalID: id, err: err}
		}
		result, err := m.service.FakeVote(m.ctx, emojiusecase.FakeVoteInput{Actor: m.actor, ProposalRef: id, Vote: vote})
		if err != nil {
			return actionDoneMsg{action: "vote:" + vote, proposalID: id, err: err}
		}
		return actionDoneMsg{action: "vote:" + vote, proposalID: id, result: fmt.Sprintf("net=%d", result.Tally.Net())}
	}
}

func (m *proposalModel) toggleBlockCmd() tea.Cmd {
	selected, ok := m.selected()
	if !ok {
		m.status = "no proposal selected"
		return nil
	}
	vote := "block"
	if selected.Blocked {
		vote = "unblock"
	}
	return m.fakeVoteCmd(vote)
}

func (m *proposalModel) forceCmd() tea.Cmd {
	selected, ok := m.selected()
	if !ok {
		m.status = "no proposal selected"
		return nil
	}
	id := selected.Proposal.ID
	m.status = "forcing"
	return func() tea.Msg {
		if err := m.requireActor(); err != nil {
			return actionDoneMsg{action: "force", proposalID: id, err: err}
		}
		result, err := m.service.Force(m.ctx, id, m.actor)
		if err != nil {
			return actionDoneMsg{action: "force", proposalID: id, err: err}
		}
		outcome := string(result.State)
		if result.Skipped {
			outcome = "skipped"
		}
		if result.Note != "" {
			outcome += " (" + result.Note + ")"
		}
		return actionDoneMsg{action: "force", proposalID: id, result: outcome}
	}
}

func (m *proposalModel) sweepCmd() tea.Cmd {
	m.status = "tallying"
	return func() tea.Msg {
		report, err := m.service.Sweep(m.ctx, m.now().UTC())
		if err != nil {
			return actionDoneMsg{action: "tally", err: err}
		}
		return actionDoneMsg{
			action: "tally",
			result: fmt.Sprintf("evaluated=%d accepted=%d rejected=%d failed=%d", report.Evaluated, report.Accepted, report.Rejected, report.Failed),
		}
	}
}

func (m *proposalModel) appendActionLog(action string, proposalID string, result string, opErr error) {
	outcome := strings.TrimSpace(result)
	if opErr != nil {
		outcome = "error: " + opErr.Error()
	}
	if outcome == "" {
		outcome = "ok"
	}

	timestamp := m.now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s actor=%s proposal=%s action=%s result=%s", timestamp, firstNonEmpty(m.actor, "-"), firstNonEmpty(proposalID, "-"), action, outcome)
	m.actionLogs = append([]string{line}, m.actionLogs...)
	if len(m.actionLogs) > maxActionLines {
		m.actionLogs = m.actionLogs[:maxActionLines]
	}

	logging.Info(m.ctx, "console action",
		slog.String("actor", m.actor),
		slog.String("proposal_id", proposalID),
		slog.String("action", action),
		slog.String("result", outcome),
	)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
