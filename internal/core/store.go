package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paircomms/msg-gateway/internal/db"
)

type Store struct {
	DB       *pgxpool.Pool
	Cooldown CooldownGate
}

func NewStore(pool *pgxpool.Pool, cooldown time.Duration) *Store {
	return &Store{DB: pool, Cooldown: NewCooldownGate(cooldown)}
}

type SubmitRequest struct {
	From string
	To   string
	Body string
	Now  time.Time
	File *FileRef
}

// LastReceivedAt returns the received_at of the most recent committed message
// for the ordered (from, to) pair, or nil if none exists. Ties on equal
// timestamps resolve to whichever row the index returns first.
func (s *Store) LastReceivedAt(ctx context.Context, from, to string) (*time.Time, error) {
	var t time.Time
	err := s.DB.QueryRow(ctx, `
		SELECT received_at FROM messages
		WHERE sender=$1 AND recipient=$2
		ORDER BY received_at DESC
		LIMIT 1
	`, from, to).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AttachmentFilenameExists is the cheap pre-check; the unique index on
// attachments.filename is what actually decides a race.
func (s *Store) AttachmentFilenameExists(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM attachments WHERE filename=$1)`, filename).Scan(&exists)
	return exists, err
}

// Submit creates the message, and when a file is present the attachment and
// the link, as one transaction. An advisory lock on the pair serializes
// same-pair submissions so the cooldown re-read inside the transaction only
// ever sees committed siblings that finished first.
func (s *Store) Submit(ctx context.Context, r SubmitRequest) (*Message, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the pair, then re-check the cooldown.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, r.From+"\x00"+r.To); err != nil {
		return nil, fmt.Errorf("pair lock: %w", err)
	}

	var prev *time.Time
	var prevAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT received_at FROM messages
		WHERE sender=$1 AND recipient=$2
		ORDER BY received_at DESC
		LIMIT 1
	`, r.From, r.To).Scan(&prevAt)
	switch {
	case err == nil:
		prev = &prevAt
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, err
	}
	if !s.Cooldown.Allow(prev, r.Now) {
		return nil, ErrCooldownActive
	}

	m := Message{From: r.From, To: r.To, Body: r.Body, ReceivedAt: r.Now}
	err = tx.QueryRow(ctx, `
		INSERT INTO messages(sender, recipient, body, received_at)
		VALUES($1,$2,$3,$4)
		RETURNING id, status
	`, r.From, r.To, r.Body, r.Now).Scan(&m.ID, &m.Status)
	if err != nil {
		return nil, err
	}

	if r.File != nil {
		// Re-validate inside the atomic scope; the earlier service-level
		// check may have raced another submission.
		if err := ValidateContentType(r.File.ContentType); err != nil {
			return nil, err
		}
		var attID string
		err = tx.QueryRow(ctx, `
			INSERT INTO attachments(message_id, storage_path, filename, content_type)
			VALUES($1,$2,$3,$4)
			RETURNING id
		`, m.ID, r.File.StoragePath, r.File.Filename, r.File.ContentType).Scan(&attID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%s: %w", r.File.Filename, ErrDuplicateAttachment)
			}
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE messages SET attachment_id=$1 WHERE id=$2`, attID, m.ID); err != nil {
			return nil, err
		}
		m.AttachmentID = &attID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type ListFilter struct {
	From   string
	To     string
	Status string
	Limit  int
	Offset int
}

func (f ListFilter) where() (string, []any) {
	q := " WHERE 1=1"
	args := []any{}
	idx := 1
	if f.From != "" {
		q += fmt.Sprintf(" AND sender=$%d", idx)
		args = append(args, f.From)
		idx++
	}
	if f.To != "" {
		q += fmt.Sprintf(" AND recipient=$%d", idx)
		args = append(args, f.To)
		idx++
	}
	if f.Status != "" {
		q += fmt.Sprintf(" AND status=$%d", idx)
		args = append(args, f.Status)
		idx++
	}
	return q, args
}

// ListMessages returns one page of messages, newest first, plus the total
// number of rows matching the filter so callers can paginate.
func (s *Store) ListMessages(ctx context.Context, f ListFilter) ([]Message, int, error) {
	where, args := f.where()

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	q := `SELECT id, sender, recipient, body, status, received_at, attachment_id FROM messages` + where +
		fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Body, &m.Status, &m.ReceivedAt, &m.AttachmentID); err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// MarkDeleted flips a message to the deleted status. Rows are never removed;
// deleted is a logical flag.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `UPDATE messages SET status='deleted' WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

// GetAttachment loads one attachment record.
func (s *Store) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	var a Attachment
	err := s.DB.QueryRow(ctx, `
		SELECT id, message_id, storage_path, filename, content_type
		FROM attachments WHERE id=$1
	`, id).Scan(&a.ID, &a.MessageID, &a.StoragePath, &a.Filename, &a.ContentType)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
