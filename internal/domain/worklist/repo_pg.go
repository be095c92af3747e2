package worklist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restrack/restrack/internal/platform/db"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// =========== Worklist Repository ===========

type worklistRepoPG struct{ pool *pgxpool.Pool }

func NewWorklistRepoPG(pool *pgxpool.Pool) WorklistRepository { return &worklistRepoPG{pool: pool} }

func (r *worklistRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const worklistCols = `id, name, description, created_by, created_at, updated_at`

func scanWorklist(row pgx.Row) (*WorkList, error) {
	var wl WorkList
	err := row.Scan(&wl.ID, &wl.Name, &wl.Description, &wl.CreatedBy, &wl.CreatedAt, &wl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wl, nil
}

func collectWorklists(rows pgx.Rows) ([]*WorkList, error) {
	defer rows.Close()
	out := []*WorkList{}
	for rows.Next() {
		wl, err := scanWorklist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wl)
	}
	return out, rows.Err()
}

func (r *worklistRepoPG) Create(ctx context.Context, wl *WorkList) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO worklists (name, description, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		wl.Name, wl.Description, wl.CreatedBy,
	).Scan(&wl.ID, &wl.CreatedAt, &wl.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("create worklist: %w", err)
	}
	return nil
}

func (r *worklistRepoPG) GetByID(ctx context.Context, id int64) (*WorkList, error) {
	return scanWorklist(r.conn(ctx).QueryRow(ctx, `SELECT `+worklistCols+` FROM worklists WHERE id = $1`, id))
}

func (r *worklistRepoPG) GetByName(ctx context.Context, name string) (*WorkList, error) {
	return scanWorklist(r.conn(ctx).QueryRow(ctx, `SELECT `+worklistCols+` FROM worklists WHERE name = $1`, name))
}

func (r *worklistRepoPG) Update(ctx context.Context, wl *WorkList) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE worklists SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		wl.ID, wl.Name, wl.Description,
	).Scan(&wl.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicateName
	case err != nil:
		return fmt.Errorf("update worklist: %w", err)
	}
	return nil
}

func (r *worklistRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM worklists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete worklist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeleteNotFound
	}
	return nil
}

func (r *worklistRepoPG) ListAll(ctx context.Context, limit, offset int) ([]*WorkList, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM worklists`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+worklistCols+` FROM worklists ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectWorklists(rows)
	return items, total, err
}

func (r *worklistRepoPG) ListSubscribed(ctx context.Context, userID int64) ([]*WorkList, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT w.id, w.name, w.description, w.created_by, w.created_at, w.updated_at
		FROM worklists w
		JOIN user_worklists s ON s.worklist_id = w.id
		WHERE s.user_id = $1
		ORDER BY w.id`, userID)
	if err != nil {
		return nil, err
	}
	return collectWorklists(rows)
}

func (r *worklistRepoPG) ListUnsubscribed(ctx context.Context, userID int64) ([]*WorkList, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+worklistCols+` FROM worklists w
		WHERE NOT EXISTS (
			SELECT 1 FROM user_worklists s WHERE s.worklist_id = w.id AND s.user_id = $1
		)
		ORDER BY w.id`, userID)
	if err != nil {
		return nil, err
	}
	return collectWorklists(rows)
}

// =========== Subscription Repository ===========

type subscriptionRepoPG struct{ pool *pgxpool.Pool }

func NewSubscriptionRepoPG(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepoPG{pool: pool}
}

func (r *subscriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.UserID, &s.WorklistID, &s.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionMissing
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepoPG) Add(ctx context.Context, sub *Subscription) error {
	if sub.Role == "" {
		sub.Role = RoleRead
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO user_worklists (user_id, worklist_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, worklist_id) DO NOTHING`,
		sub.UserID, sub.WorklistID, string(sub.Role))
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepoPG) Get(ctx context.Context, userID, worklistID int64) (*Subscription, error) {
	return scanSubscription(r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, worklist_id, role FROM user_worklists
		WHERE user_id = $1 AND worklist_id = $2`, userID, worklistID))
}

func (r *subscriptionRepoPG) Remove(ctx context.Context, userID, worklistID int64) (*Subscription, error) {
	return scanSubscription(r.conn(ctx).QueryRow(ctx, `
		DELETE FROM user_worklists
		WHERE user_id = $1 AND worklist_id = $2
		RETURNING user_id, worklist_id, role`, userID, worklistID))
}

func (r *subscriptionRepoPG) DeleteByWorklist(ctx context.Context, worklistID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_worklists WHERE worklist_id = $1`, worklistID)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =========== Membership Repository ===========

type membershipRepoPG struct{ pool *pgxpool.Pool }

func NewMembershipRepoPG(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepoPG{pool: pool}
}

func (r *membershipRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const membershipCols = `order_id, worklist_id, status, priority, user_note`

func collectMemberships(rows pgx.Rows) ([]Membership, error) {
	defer rows.Close()
	out := []Membership{}
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.OrderID, &m.WorklistID, &m.Status, &m.Priority, &m.UserNote); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *membershipRepoPG) AddIfAbsent(ctx context.Context, m Membership) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_worklists (`+membershipCols+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, worklist_id) DO NOTHING`,
		m.OrderID, m.WorklistID, m.Status, m.Priority, m.UserNote)
	if err != nil {
		return fmt.Errorf("add order %d: %w", m.OrderID, err)
	}
	return nil
}

func (r *membershipRepoPG) Upsert(ctx context.Context, m Membership) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_worklists (`+membershipCols+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, worklist_id) DO UPDATE
		SET status = EXCLUDED.status, priority = EXCLUDED.priority, user_note = EXCLUDED.user_note`,
		m.OrderID, m.WorklistID, m.Status, m.Priority, m.UserNote)
	if err != nil {
		return fmt.Errorf("upsert order %d: %w", m.OrderID, err)
	}
	return nil
}

func (r *membershipRepoPG) Get(ctx context.Context, worklistID, orderID int64) (*Membership, error) {
	var m Membership
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+membershipCols+` FROM order_worklists
		WHERE worklist_id = $1 AND order_id = $2`, worklistID, orderID,
	).Scan(&m.OrderID, &m.WorklistID, &m.Status, &m.Priority, &m.UserNote)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoMembership
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepoPG) ListByWorklist(ctx context.Context, worklistID int64) ([]Membership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+membershipCols+` FROM order_worklists
		WHERE worklist_id = $1 ORDER BY order_id`, worklistID)
	if err != nil {
		return nil, err
	}
	return collectMemberships(rows)
}

func (r *membershipRepoPG) FirstByOrders(ctx context.Context, orderIDs []int64) (map[int64]Membership, error) {
	out := make(map[int64]Membership, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (order_id) `+membershipCols+`
		FROM order_worklists
		WHERE order_id = ANY($1)
		ORDER BY order_id, worklist_id`, orderIDs)
	if err != nil {
		return nil, err
	}
	list, err := collectMemberships(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		out[m.OrderID] = m
	}
	return out, nil
}

func (r *membershipRepoPG) Remove(ctx context.Context, worklistID int64, orderIDs []int64) ([]Membership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		DELETE FROM order_worklists
		WHERE worklist_id = $1 AND order_id = ANY($2)
		RETURNING `+membershipCols, worklistID, orderIDs)
	if err != nil {
		return nil, err
	}
	return collectMemberships(rows)
}

func (r *membershipRepoPG) DeleteByWorklist(ctx context.Context, worklistID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM order_worklists WHERE worklist_id = $1`, worklistID)
	if err != nil {
		return 0, fmt.Errorf("delete memberships: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *membershipRepoPG) SetStatus(ctx context.Context, orderIDs []int64, status string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE order_worklists SET status = $2 WHERE order_id = ANY($1)`, orderIDs, status)
	return err
}

func (r *membershipRepoPG) SetPriority(ctx context.Context, orderIDs []int64, priority int) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE order_worklists SET priority = $2 WHERE order_id = ANY($1)`, orderIDs, priority)
	return err
}

func (r *membershipRepoPG) SetNote(ctx context.Context, worklistID int64, orderIDs []int64, note string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE order_worklists SET user_note = $3
		WHERE worklist_id = $1 AND order_id = ANY($2)`, worklistID, orderIDs, note)
	return err
}
