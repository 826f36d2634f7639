package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate key violation")
	ErrStaleVersion = errors.New("record was modified concurrently")
)

var (
	userColumns      = []string{"id", "name", "email", "password_hash", "theme", "avatar_url", "background_image", "token", "created_at", "updated_at"}
	dashboardColumns = []string{"id", "owner_id", "name", "slug", "icon", "background_image", "column_ids", "version", "created_at", "updated_at"}
	columnColumns    = []string{"id", "name", "card_ids"}
	cardColumns      = []string{"id", "title", "description", "priority", "deadline", "column_id"}
)

// Store persists users, dashboards, columns and cards. Every method is atomic
// for a single record; use WithTx to group several of them.
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	tx  *sqlx.Tx
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db, now: time.Now}
}

// WithTx runs fn against a store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Nested
// calls reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, ext: tx, tx: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, dest any, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.ext, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) selectAll(ctx context.Context, dest any, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return sqlx.SelectContext(ctx, s.ext, dest, query, args...)
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	result, err := s.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

func translateError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}

// NewID returns a fresh record id
func NewID() string {
	return uuid.NewString()
}

// CreateUser inserts a user, assigning its id and timestamps
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.exec(ctx, sq.Insert("users").Columns(userColumns...).Values(
		u.ID, u.Name, u.Email, u.PasswordHash, u.Theme, u.AvatarURL, u.BackgroundImage, u.Token, u.CreatedAt, u.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.get(ctx, &u, sq.Select(userColumns...).From("users").Where(sq.Eq{"id": id})); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := s.get(ctx, &u, sq.Select(userColumns...).From("users").Where(sq.Eq{"email": email})); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser writes every mutable user field
func (s *Store) UpdateUser(ctx context.Context, u *User) error {
	u.UpdatedAt = s.now().UTC()
	rows, err := s.exec(ctx, sq.Update("users").SetMap(map[string]any{
		"name":             u.Name,
		"email":            u.Email,
		"password_hash":    u.PasswordHash,
		"theme":            u.Theme,
		"avatar_url":       u.AvatarURL,
		"background_image": u.BackgroundImage,
		"token":            u.Token,
		"updated_at":       u.UpdatedAt,
	}).Where(sq.Eq{"id": u.ID}))
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateDashboard inserts a dashboard with an empty column list
func (s *Store) CreateDashboard(ctx context.Context, d *Dashboard) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.Columns == nil {
		d.Columns = IDList{}
	}
	now := s.now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	d.Version = 0

	_, err := s.exec(ctx, sq.Insert("dashboards").Columns(dashboardColumns...).Values(
		d.ID, d.Owner, d.Name, d.Slug, d.Icon, d.BackgroundImage, d.Columns, d.Version, d.CreatedAt, d.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("failed to insert dashboard: %w", err)
	}
	return nil
}

func (s *Store) GetDashboard(ctx context.Context, id string) (*Dashboard, error) {
	var d Dashboard
	if err := s.get(ctx, &d, sq.Select(dashboardColumns...).From("dashboards").Where(sq.Eq{"id": id})); err != nil {
		return nil, err
	}
	return &d, nil
}

// FindDashboard looks a dashboard up by its owner and slug
func (s *Store) FindDashboard(ctx context.Context, ownerID, slug string) (*Dashboard, error) {
	var d Dashboard
	err := s.get(ctx, &d, sq.Select(dashboardColumns...).From("dashboards").
		Where(sq.Eq{"owner_id": ownerID, "slug": slug}))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDashboards(ctx context.Context, ownerID string) ([]Dashboard, error) {
	dashboards := []Dashboard{}
	err := s.selectAll(ctx, &dashboards, sq.Select(dashboardColumns...).From("dashboards").
		Where(sq.Eq{"owner_id": ownerID}).OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	return dashboards, nil
}

// UpdateDashboard saves d if nobody else saved it since it was read. On
// success d.Version is advanced.
func (s *Store) UpdateDashboard(ctx context.Context, d *Dashboard) error {
	updatedAt := s.now().UTC()
	rows, err := s.exec(ctx, sq.Update("dashboards").SetMap(map[string]any{
		"name":             d.Name,
		"slug":             d.Slug,
		"icon":             d.Icon,
		"background_image": d.BackgroundImage,
		"column_ids":       d.Columns,
		"version":          d.Version + 1,
		"updated_at":       updatedAt,
	}).Where(sq.Eq{"id": d.ID, "version": d.Version}))
	if err != nil {
		return fmt.Errorf("failed to update dashboard: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetDashboard(ctx, d.ID); err != nil {
			return err
		}
		return ErrStaleVersion
	}
	d.Version++
	d.UpdatedAt = updatedAt
	return nil
}

func (s *Store) DeleteDashboard(ctx context.Context, id string) error {
	rows, err := s.exec(ctx, sq.Delete("dashboards").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateColumn(ctx context.Context, c *Column) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Cards == nil {
		c.Cards = IDList{}
	}
	_, err := s.exec(ctx, sq.Insert("columns").Columns(columnColumns...).Values(c.ID, c.Name, c.Cards))
	if err != nil {
		return fmt.Errorf("failed to insert column: %w", err)
	}
	return nil
}

func (s *Store) GetColumn(ctx context.Context, id string) (*Column, error) {
	var c Column
	if err := s.get(ctx, &c, sq.Select(columnColumns...).From("columns").Where(sq.Eq{"id": id})); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListColumns returns the columns named by ids in the same order, skipping
// ids that no longer exist.
func (s *Store) ListColumns(ctx context.Context, ids []string) ([]Column, error) {
	var found []Column
	if err := s.selectAll(ctx, &found, sq.Select(columnColumns...).From("columns").Where(sq.Eq{"id": ids})); err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	byID := make(map[string]Column, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	columns := make([]Column, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			columns = append(columns, c)
		}
	}
	return columns, nil
}

func (s *Store) UpdateColumn(ctx context.Context, c *Column) error {
	rows, err := s.exec(ctx, sq.Update("columns").
		Set("name", c.Name).
		Set("card_ids", c.Cards).
		Where(sq.Eq{"id": c.ID}))
	if err != nil {
		return fmt.Errorf("failed to update column: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteColumn(ctx context.Context, id string) error {
	rows, err := s.exec(ctx, sq.Delete("columns").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to delete column: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateCard(ctx context.Context, c *Card) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Priority == "" {
		c.Priority = PriorityWithout
	}
	_, err := s.exec(ctx, sq.Insert("cards").Columns(cardColumns...).Values(
		c.ID, c.Title, c.Description, c.Priority, c.Deadline, c.ColumnID,
	))
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

func (s *Store) GetCard(ctx context.Context, id string) (*Card, error) {
	var c Card
	if err := s.get(ctx, &c, sq.Select(cardColumns...).From("cards").Where(sq.Eq{"id": id})); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCards returns the cards named by ids in the same order, skipping ids
// that no longer exist.
func (s *Store) ListCards(ctx context.Context, ids []string) ([]Card, error) {
	var found []Card
	if err := s.selectAll(ctx, &found, sq.Select(cardColumns...).From("cards").Where(sq.Eq{"id": ids})); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	byID := make(map[string]Card, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	cards := make([]Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			cards = append(cards, c)
		}
	}
	return cards, nil
}

func (s *Store) UpdateCard(ctx context.Context, c *Card) error {
	rows, err := s.exec(ctx, sq.Update("cards").SetMap(map[string]any{
		"title":       c.Title,
		"description": c.Description,
		"priority":    c.Priority,
		"deadline":    c.Deadline,
		"column_id":   c.ColumnID,
	}).Where(sq.Eq{"id": c.ID}))
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCard(ctx context.Context, id string) error {
	rows, err := s.exec(ctx, sq.Delete("cards").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCards removes the listed cards and every card pointing at one of
// columnIDs. It returns how many rows went away.
func (s *Store) DeleteCards(ctx context.Context, ids []string, columnIDs []string) (int64, error) {
	rows, err := s.exec(ctx, sq.Delete("cards").Where(sq.Or{
		sq.Eq{"id": ids},
		sq.Eq{"column_id": columnIDs},
	}))
	if err != nil {
		return 0, fmt.Errorf("failed to delete cards: %w", err)
	}
	return rows, nil
}

func (s *Store) CreateHelpRequest(ctx context.Context, h *HelpRequest) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	h.CreatedAt = s.now().UTC()
	_, err := s.exec(ctx, sq.Insert("help_requests").
		Columns("id", "owner_id", "comment", "created_at").
		Values(h.ID, h.Owner, h.Comment, h.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert help request: %w", err)
	}
	return nil
}
