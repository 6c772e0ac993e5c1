package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/infrastructure/persistence/sqlite/model"
	"emojivote/internal/ports"
)

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type ProposalRepository struct {
	db *gorm.DB
}

var _ ports.ProposalRepository = (*ProposalRepository)(nil)

func NewProposalRepository(db *gorm.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func dbFromContext(ctx context.Context, db *gorm.DB) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *ProposalRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	return dbFromContext(ctx, r.db)
}

func (r *ProposalRepository) GetProposal(ctx context.Context, id string) (domainemoji.Proposal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainemoji.Proposal{}, err
	}
	return takeProposal(db.Where("id = ?", strings.TrimSpace(id)), id)
}

func (r *ProposalRepository) GetProposalByThread(ctx context.Context, thread string) (domainemoji.Proposal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainemoji.Proposal{}, err
	}
	return takeProposal(db.Where("thread = ?", strings.TrimSpace(thread)), thread)
}

func takeProposal(query *gorm.DB, ref string) (domainemoji.Proposal, error) {
	var row model.Proposal
	if err := query.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainemoji.Proposal{}, fmt.Errorf("%w: %s", domainemoji.ErrProposalNotFound, ref)
		}
		return domainemoji.Proposal{}, errs.Wrap(err, "query proposal")
	}
	return mapProposal(row)
}

func (r *ProposalRepository) ListProposals(ctx context.Context, filter ports.ProposalFilter) ([]domainemoji.Proposal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Proposal{})
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}
		query = query.Where("state IN ?", states)
	}
	if name := strings.TrimSpace(filter.Emoji); name != "" {
		query = query.Where("emoji = ?", name)
	}

	var rows []model.Proposal
	if err := query.Order("created asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query proposals")
	}

	items := make([]domainemoji.Proposal, 0, len(rows))
	for _, row := range rows {
		item, err := mapProposal(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *ProposalRepository) CreateProposal(ctx context.Context, proposal domainemoji.Proposal) (domainemoji.Proposal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainemoji.Proposal{}, err
	}

	if strings.TrimSpace(proposal.ID) == "" {
		proposal.ID = uuid.NewString()
	}
	if proposal.State == "" {
		proposal.State = domainemoji.StateNew
	}
	if proposal.Created.IsZero() {
		proposal.Created = time.Now()
	}
	proposal.Created = proposal.Created.UTC()

	row := model.Proposal{
		ID:         proposal.ID,
		Created:    formatTime(proposal.Created),
		State:      string(proposal.State),
		Action:     string(proposal.Action),
		Emoji:      proposal.Emoji,
		FileRef:    proposal.FileRef,
		Alias:      proposal.Alias,
		Canonical:  proposal.Canonical,
		Thread:     proposal.Thread,
		Permalink:  proposal.Permalink,
		User:       proposal.User,
		PreviewRef: proposal.PreviewRef,
	}
	if err := db.Create(&row).Error; err != nil {
		return domainemoji.Proposal{}, errs.Wrap(err, "insert proposal")
	}
	return proposal, nil
}

func (r *ProposalRepository) CompareAndSetState(ctx context.Context, id string, from domainemoji.State, to domainemoji.State) (bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return false, err
	}

	result := db.Model(&model.Proposal{}).
		Where("id = ? AND state = ?", id, string(from)).
		Update("state", string(to))
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "compare and set proposal state")
	}
	return result.RowsAffected == 1, nil
}

func (r *ProposalRepository) ForceState(ctx context.Context, id string, to domainemoji.State) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.Proposal{}).Where("id = ?", id).Update("state", string(to))
	if result.Error != nil {
		return errs.Wrap(result.Error, "overwrite proposal state")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domainemoji.ErrProposalNotFound, id)
	}
	return nil
}

func (r *ProposalRepository) AppendAudit(ctx context.Context, entry domainemoji.AuditEntry) (domainemoji.AuditEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainemoji.AuditEntry{}, err
	}

	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now()
	}
	entry.Date = entry.Date.UTC()

	row := model.AuditEntry{
		ID:         entry.ID,
		Date:       formatTime(entry.Date),
		Actor:      entry.Actor,
		Action:     string(entry.Action),
		ProposalID: entry.ProposalID,
		Emoji:      entry.Emoji,
		Note:       entry.Note,
	}
	if err := db.Create(&row).Error; err != nil {
		return domainemoji.AuditEntry{}, errs.Wrap(err, "insert audit entry")
	}
	entry.Seq = row.Seq
	return entry, nil
}

func (r *ProposalRepository) ListAudit(ctx context.Context, proposalID string) ([]domainemoji.AuditEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.AuditEntry
	if err := db.
		Where("proposal_id = ?", proposalID).
		Order("date asc").
		Order("seq asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query audit entries")
	}
	return mapAuditEntries(rows)
}

func (r *ProposalRepository) ListAuditByAction(ctx context.Context, query ports.AuditQuery) ([]domainemoji.AuditEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	stmt := db.Model(&model.AuditEntry{})
	if len(query.Actions) > 0 {
		actions := make([]string, 0, len(query.Actions))
		for _, action := range query.Actions {
			actions = append(actions, string(action))
		}
		stmt = stmt.Where("action IN ?", actions)
	}
	if !query.Since.IsZero() {
		stmt = stmt.Where("date >= ?", formatTime(query.Since))
	}
	stmt = stmt.Order("date desc").Order("seq desc")
	if query.Limit > 0 {
		stmt = stmt.Limit(query.Limit)
	}

	var rows []model.AuditEntry
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query audit entries by action")
	}
	return mapAuditEntries(rows)
}

func (r *ProposalRepository) GetMirrorEntry(ctx context.Context, name string) (domainemoji.MirrorEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainemoji.MirrorEntry{}, err
	}

	var row model.Emoji
	if err := db.Where("name = ?", name).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainemoji.MirrorEntry{}, fmt.Errorf("%w: %s", domainemoji.ErrEntryNotFound, name)
		}
		return domainemoji.MirrorEntry{}, errs.Wrap(err, "query emoji")
	}
	return mapMirrorEntry(row)
}

func (r *ProposalRepository) ListMirror(ctx context.Context) ([]domainemoji.MirrorEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Emoji
	if err := db.Order("name asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query emojis")
	}

	items := make([]domainemoji.MirrorEntry, 0, len(rows))
	for _, row := range rows {
		item, err := mapMirrorEntry(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *ProposalRepository) UpsertMirrorEntry(ctx context.Context, entry domainemoji.MirrorEntry) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if entry.Updated.IsZero() {
		entry.Updated = time.Now()
	}
	row := model.Emoji{
		Name:       entry.Name,
		FileRef:    entry.FileRef,
		Alias:      entry.Alias,
		Canonical:  entry.Canonical,
		Updated:    formatTime(entry.Updated.UTC()),
		ProposalID: entry.ProposalID,
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"file_ref":    row.FileRef,
			"alias":       row.Alias,
			"cname":       row.Canonical,
			"updated":     row.Updated,
			"proposal_id": row.ProposalID,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert emoji")
	}
	return nil
}

func (r *ProposalRepository) DeleteMirrorEntry(ctx context.Context, name string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("name = ?", name).Delete(&model.Emoji{}).Error; err != nil {
		return errs.Wrap(err, "delete emoji")
	}
	return nil
}

func mapProposal(row model.Proposal) (domainemoji.Proposal, error) {
	created, err := parseTime(row.Created)
	if err != nil {
		return domainemoji.Proposal{}, errs.Wrapf(err, "parse created of proposal %s", row.ID)
	}
	return domainemoji.Proposal{
		ID:         row.ID,
		Created:    created,
		State:      domainemoji.State(row.State),
		Action:     domainemoji.Action(row.Action),
		Emoji:      row.Emoji,
		FileRef:    row.FileRef,
		Alias:      row.Alias,
		Canonical:  row.Canonical,
		Thread:     row.Thread,
		Permalink:  row.Permalink,
		User:       row.User,
		PreviewRef: row.PreviewRef,
	}, nil
}

func mapAuditEntries(rows []model.AuditEntry) ([]domainemoji.AuditEntry, error) {
	items := make([]domainemoji.AuditEntry, 0, len(rows))
	for _, row := range rows {
		date, err := parseTime(row.Date)
		if err != nil {
			return nil, errs.Wrapf(err, "parse date of audit entry %s", row.ID)
		}
		items = append(items, domainemoji.AuditEntry{
			ID:         row.ID,
			Seq:        row.Seq,
			Date:       date,
			Actor:      row.Actor,
			Action:     domainemoji.AuditAction(row.Action),
			ProposalID: row.ProposalID,
			Emoji:      row.Emoji,
			Note:       row.Note,
		})
	}
	return items, nil
}

func mapMirrorEntry(row model.Emoji) (domainemoji.MirrorEntry, error) {
	updated, err := parseTime(row.Updated)
	if err != nil {
		return domainemoji.MirrorEntry{}, errs.Wrapf(err, "parse updated of emoji %s", row.Name)
	}
	return domainemoji.MirrorEntry{
		Name:       row.Name,
		FileRef:    row.FileRef,
		Alias:      row.Alias,
		Canonical:  row.Canonical,
		Updated:    updated,
		ProposalID: row.ProposalID,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}
