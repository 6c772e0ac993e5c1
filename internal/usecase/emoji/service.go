package emoji

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

var (
	errActorRequired     = errors.New("actor is required")
	errProposalRequired  = errors.New("proposal reference is required")
	errRepositoryMissing = errors.New("proposal repository is required")
)

// noteLimit bounds upstream error text stored next to a system:fail entry.
const noteLimit = 500

type Reactions struct {
	Up       string
	Down     string
	Force    string
	Block    string
	Withdraw string
	Report   string
}

type Options struct {
	Rules        domainemoji.VoteRules
	EmojiChannel string
	AdminChannel string
	Reactions    Reactions
	IsAdmin      func(user string) bool
	// SweepParallelism bounds how many proposals a sweep evaluates at once.
	SweepParallelism int
	Now              func() time.Time
	Metrics          ports.Metrics
	// Attachments downloads images of proposals posted in chat.
	Attachments ports.AttachmentFetcher
}

type Service struct {
	repo      ports.ProposalRepository
	uow       ports.UnitOfWork
	cache     ports.Cache
	directory ports.DirectoryGateway
	content   ports.ContentStore
	notifier  ports.Notifier
	opts      Options
	locks     *keyedMutex
}

// NewService wires the emoji voting usecases. cache may be nil.
func NewService(
	repo ports.ProposalRepository,
	uow ports.UnitOfWork,
	cache ports.Cache,
	directory ports.DirectoryGateway,
	content ports.ContentStore,
	notifier ports.Notifier,
	opts Options,
) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(string) bool { return false }
	}
	if opts.SweepParallelism <= 0 {
		opts.SweepParallelism = 1
	}
	return &Service{
		repo:      repo,
		uow:       uow,
		cache:     cache,
		directory: directory,
		content:   content,
		notifier:  notifier,
		opts:      opts,
		locks:     newKeyedMutex(),
	}
}

func (s *Service) Rules() domainemoji.VoteRules {
	return s.opts.Rules
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *Service) ready(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return errRepositoryMissing
	}
	if s.uow == nil {
		return errors.New("unit of work is required")
	}
	return nil
}

// resolveProposal accepts a proposal id or a thread reference.
func (s *Service) resolveProposal(ctx context.Context, ref string) (domainemoji.Proposal, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return domainemoji.Proposal{}, errProposalRequired
	}
	if looksLikeID(trimmed) {
		proposal, err := s.repo.GetProposal(ctx, trimmed)
		if err == nil || !errors.Is(err, domainemoji.ErrProposalNotFound) {
			return proposal, err
		}
	}
	return s.repo.GetProposalByThread(ctx, trimmed)
}

func (s *Service) tallyOf(ctx context.Context, proposalID string) (domainemoji.TallyResult, error) {
	entries, err := s.repo.ListAudit(ctx, proposalID)
	if err != nil {
		return domainemoji.TallyResult{}, err
	}
	return domainemoji.Tally(proposalID, entries)
}

// keyedMutex serializes work on one proposal inside this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
