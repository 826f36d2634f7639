package services

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/database"
)

// Publisher pushes a message to every live connection of a user
type Publisher interface {
	Publish(userID string, message WebSocketMessage)
}

// BoardEvent describes a change to one of the user's boards
type BoardEvent struct {
	Action string `json:"action"`
	Board  string `json:"board"`
	ID     string `json:"id,omitempty"`
}

// ColumnView is a column with its cards resolved in order
type ColumnView struct {
	database.Column
	Cards []database.Card `json:"cards"`
}

// BoardView is a dashboard with its columns and cards resolved in order
type BoardView struct {
	database.Dashboard
	Columns []ColumnView `json:"columns"`
}

// ColumnUpdate is the outcome of UpdateColumn
type ColumnUpdate struct {
	Column  *database.Column
	Columns database.IDList
	Renamed bool
	Moved   bool
}

// BoardService applies every change to dashboards, columns and cards. Each
// change runs in one store transaction that also bumps the dashboard
// version, so the ordered id lists never drift from the records they name.
type BoardService struct {
	store  *database.Store
	cache  *BoardCache
	events Publisher
	logger *log.Logger
}

func NewBoardService(store *database.Store, cache *BoardCache, events Publisher, logger *log.Logger) *BoardService {
	return &BoardService{
		store:  store,
		cache:  cache,
		events: events,
		logger: logger,
	}
}

// CreateDashboard creates a board for owner. Its slug comes from the name
// and must be unique among the owner's boards.
func (s *BoardService) CreateDashboard(ctx context.Context, owner *database.User, in DashboardInput) (*database.Dashboard, error) {
	if err := in.Validate(true); err != nil {
		return nil, err
	}

	d := &database.Dashboard{
		ID:    database.NewID(),
		Owner: owner.ID,
		Name:  *in.Name,
	}
	d.Slug = slugFor(d.Name, d.ID)
	if in.Icon != nil {
		d.Icon = *in.Icon
	}
	if in.BackgroundImage != nil {
		d.BackgroundImage = *in.BackgroundImage
	}

	if err := s.store.CreateDashboard(ctx, d); err != nil {
		return nil, dashboardNameTaken(err)
	}

	s.logger.WithFields(log.Fields{"user": owner.ID, "board": d.Slug}).Info("board created")
	s.publish(d.Owner, "board.created", d.Slug, d.ID)
	return d, nil
}

func (s *BoardService) ListDashboards(ctx context.Context, owner *database.User) ([]database.Dashboard, error) {
	return s.store.ListDashboards(ctx, owner.ID)
}

// View resolves the board's columns and cards in their stored order
func (s *BoardService) View(ctx context.Context, board *database.Dashboard) (*BoardView, error) {
	if view, ok := s.cache.Load(ctx, board.ID, board.Version); ok {
		return view, nil
	}

	columns, err := s.store.ListColumns(ctx, board.Columns)
	if err != nil {
		return nil, err
	}

	view := &BoardView{Dashboard: *board, Columns: make([]ColumnView, 0, len(columns))}
	for _, col := range columns {
		cards, err := s.store.ListCards(ctx, col.Cards)
		if err != nil {
			return nil, err
		}
		view.Columns = append(view.Columns, ColumnView{Column: col, Cards: cards})
	}

	s.cache.Store(ctx, board.ID, board.Version, view)
	return view, nil
}

// UpdateDashboard renames a board or changes its icon or background.
// Renaming derives a new slug.
func (s *BoardService) UpdateDashboard(ctx context.Context, board *database.Dashboard, in DashboardInput) (*database.Dashboard, error) {
	if err := in.Validate(false); err != nil {
		return nil, err
	}

	oldSlug := board.Slug
	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		if in.Name != nil {
			d.Name = *in.Name
			d.Slug = slugFor(d.Name, d.ID)
		}
		if in.Icon != nil {
			d.Icon = *in.Icon
		}
		if in.BackgroundImage != nil {
			d.BackgroundImage = *in.BackgroundImage
		}
		return nil
	})
	if err != nil {
		return nil, dashboardNameTaken(err)
	}

	s.publish(d.Owner, "board.updated", oldSlug, d.ID)
	return d, nil
}

// DeleteDashboard removes the owner's board with the given slug together
// with all of its columns and their cards.
func (s *BoardService) DeleteDashboard(ctx context.Context, owner *database.User, slug string) error {
	var deleted *database.Dashboard
	err := s.store.WithTx(ctx, func(tx *database.Store) error {
		d, err := tx.FindDashboard(ctx, owner.ID, slug)
		if err != nil {
			return storeError("Dashboard", err)
		}
		deleted = d
		return s.cascade(ctx, tx, d)
	})
	if err != nil {
		return err
	}

	s.cache.Evict(ctx, deleted.ID)
	s.logger.WithFields(log.Fields{"user": owner.ID, "board": slug}).Info("board deleted")
	s.publish(owner.ID, "board.deleted", slug, deleted.ID)
	return nil
}

type cascadeStep struct {
	name string
	run  func(ctx context.Context, tx *database.Store) error
}

// cascade deletes d, then its columns, then every card they held. Steps
// run in order; a record that is already gone is logged and skipped.
func (s *BoardService) cascade(ctx context.Context, tx *database.Store, d *database.Dashboard) error {
	var cardIDs []string
	steps := []cascadeStep{
		{"delete dashboard", func(ctx context.Context, tx *database.Store) error {
			return tx.DeleteDashboard(ctx, d.ID)
		}},
		{"collect cards", func(ctx context.Context, tx *database.Store) error {
			columns, err := tx.ListColumns(ctx, d.Columns)
			if err != nil {
				return err
			}
			for _, col := range columns {
				cardIDs = append(cardIDs, col.Cards...)
			}
			return nil
		}},
		{"delete columns", func(ctx context.Context, tx *database.Store) error {
			for _, id := range d.Columns {
				if err := tx.DeleteColumn(ctx, id); err != nil {
					if !errors.Is(err, database.ErrNotFound) {
						return err
					}
					s.logger.WithFields(log.Fields{"board": d.Slug, "column": id}).Warn("column already gone")
				}
			}
			return nil
		}},
		{"delete cards", func(ctx context.Context, tx *database.Store) error {
			n, err := tx.DeleteCards(ctx, cardIDs, d.Columns)
			if err != nil {
				return err
			}
			s.logger.WithFields(log.Fields{"board": d.Slug, "cards": n}).Debug("cards deleted")
			return nil
		}},
	}

	for _, step := range steps {
		if err := step.run(ctx, tx); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				s.logger.WithField("board", d.Slug).Warnf("cascade %s: %v", step.name, err)
				continue
			}
			return fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}
	return nil
}

// CreateColumn appends a new, empty column to the board
func (s *BoardService) CreateColumn(ctx context.Context, board *database.Dashboard, in ColumnInput) (*database.Column, error) {
	if err := in.Validate(true); err != nil {
		return nil, err
	}

	col := &database.Column{Name: *in.Name}
	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		if err := tx.CreateColumn(ctx, col); err != nil {
			return err
		}
		d.Columns = append(d.Columns, col.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(d.Owner, "column.created", d.Slug, col.ID)
	return col, nil
}

// UpdateColumn renames the column and/or moves it to a new position in the
// board's column list.
func (s *BoardService) UpdateColumn(ctx context.Context, board *database.Dashboard, columnID string, in ColumnInput) (*ColumnUpdate, error) {
	if err := in.Validate(false); err != nil {
		return nil, err
	}

	result := &ColumnUpdate{}
	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		from := d.Columns.IndexOf(columnID)
		if from < 0 {
			return notFound("Column")
		}
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return storeError("Column", err)
		}

		if in.Name != nil {
			col.Name = *in.Name
			if err := tx.UpdateColumn(ctx, col); err != nil {
				return storeError("Column", err)
			}
			result.Renamed = true
		}
		if in.Position != nil {
			d.Columns = Move(d.Columns, from, *in.Position)
			result.Moved = true
		}

		result.Column = col
		result.Columns = d.Columns
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(d.Owner, "column.updated", d.Slug, columnID)
	return result, nil
}

// DeleteColumn removes the column from the board and deletes its cards
func (s *BoardService) DeleteColumn(ctx context.Context, board *database.Dashboard, columnID string) error {
	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		if !d.Columns.Contains(columnID) {
			return notFound("Column")
		}
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return storeError("Column", err)
		}

		if err := tx.DeleteColumn(ctx, columnID); err != nil {
			return storeError("Column", err)
		}
		d.Columns = d.Columns.Without(columnID)

		n, err := tx.DeleteCards(ctx, col.Cards, []string{columnID})
		if err != nil {
			return err
		}
		s.logger.WithFields(log.Fields{"board": d.Slug, "column": columnID, "cards": n}).Debug("column deleted")
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(d.Owner, "column.deleted", d.Slug, columnID)
	return nil
}

// CreateCard adds a card at the end of one of the board's columns
func (s *BoardService) CreateCard(ctx context.Context, board *database.Dashboard, columnID string, in CardInput) (*database.Card, error) {
	if err := in.Validate(true); err != nil {
		return nil, err
	}

	card := &database.Card{
		Title:    *in.Title,
		Priority: database.PriorityWithout,
		ColumnID: columnID,
	}
	if err := applyCardFields(card, in); err != nil {
		return nil, err
	}

	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		if !d.Columns.Contains(columnID) {
			return notFound("Column")
		}
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return storeError("Column", err)
		}

		if err := tx.CreateCard(ctx, card); err != nil {
			return err
		}
		col.Cards = append(col.Cards, card.ID)
		return storeError("Column", tx.UpdateColumn(ctx, col))
	})
	if err != nil {
		return nil, err
	}

	s.publish(d.Owner, "card.created", d.Slug, card.ID)
	return card, nil
}

// UpdateCard changes a card's fields. A new column id re-parents the card
// to that column, which must belong to the same board.
func (s *BoardService) UpdateCard(ctx context.Context, board *database.Dashboard, cardID string, in CardInput) (*database.Card, error) {
	if err := in.Validate(false); err != nil {
		return nil, err
	}

	var card *database.Card
	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		var err error
		card, err = tx.GetCard(ctx, cardID)
		if err != nil {
			return storeError("Card", err)
		}
		if !d.Columns.Contains(card.ColumnID) {
			return notFound("Card")
		}

		if in.ColumnID != nil && *in.ColumnID != card.ColumnID {
			if err := s.reparent(ctx, tx, d, card, *in.ColumnID); err != nil {
				return err
			}
		}

		if err := applyCardFields(card, in); err != nil {
			return err
		}
		return storeError("Card", tx.UpdateCard(ctx, card))
	})
	if err != nil {
		return nil, err
	}

	s.publish(d.Owner, "card.updated", d.Slug, card.ID)
	return card, nil
}

func (s *BoardService) reparent(ctx context.Context, tx *database.Store, d *database.Dashboard, card *database.Card, target string) error {
	if !d.Columns.Contains(target) {
		return notFound("Column")
	}
	from, err := tx.GetColumn(ctx, card.ColumnID)
	if err != nil {
		return storeError("Column", err)
	}
	to, err := tx.GetColumn(ctx, target)
	if err != nil {
		return storeError("Column", err)
	}

	from.Cards = from.Cards.Without(card.ID)
	to.Cards = append(to.Cards.Without(card.ID), card.ID)
	if err := tx.UpdateColumn(ctx, from); err != nil {
		return storeError("Column", err)
	}
	if err := tx.UpdateColumn(ctx, to); err != nil {
		return storeError("Column", err)
	}

	card.ColumnID = target
	return nil
}

// DeleteCard removes a card from the board. The card's column losing its
// record is tolerated.
func (s *BoardService) DeleteCard(ctx context.Context, board *database.Dashboard, cardID string) error {
	d, err := s.mutate(ctx, board, func(tx *database.Store, d *database.Dashboard) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return storeError("Card", err)
		}
		if !d.Columns.Contains(card.ColumnID) {
			return notFound("Column")
		}

		if err := tx.DeleteCard(ctx, cardID); err != nil {
			return storeError("Card", err)
		}

		col, err := tx.GetColumn(ctx, card.ColumnID)
		if errors.Is(err, database.ErrNotFound) {
			s.logger.WithFields(log.Fields{"card": cardID, "column": card.ColumnID}).Warn("card column already gone")
			return nil
		}
		if err != nil {
			return err
		}
		col.Cards = col.Cards.Without(cardID)
		return storeError("Column", tx.UpdateColumn(ctx, col))
	})
	if err != nil {
		return err
	}

	s.publish(d.Owner, "card.deleted", d.Slug, cardID)
	return nil
}

// mutate re-reads the board inside a transaction, applies fn and saves the
// board with a version check.
func (s *BoardService) mutate(ctx context.Context, board *database.Dashboard, fn func(tx *database.Store, d *database.Dashboard) error) (*database.Dashboard, error) {
	var saved *database.Dashboard
	err := s.store.WithTx(ctx, func(tx *database.Store) error {
		d, err := tx.GetDashboard(ctx, board.ID)
		if err != nil {
			return storeError("Dashboard", err)
		}
		if err := fn(tx, d); err != nil {
			return err
		}
		if err := tx.UpdateDashboard(ctx, d); err != nil {
			return storeError("Dashboard", err)
		}
		saved = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Evict(ctx, board.ID)
	return saved, nil
}

// dashboardNameTaken rewrites slug collisions only. Other errors, a stale
// version conflict included, pass through.
func dashboardNameTaken(err error) error {
	if errors.Is(err, database.ErrDuplicate) {
		return &ConflictError{Message: "Dashboard with this name already exists", Err: err}
	}
	return err
}

func (s *BoardService) publish(userID, action, slug, id string) {
	if s.events == nil {
		return
	}
	s.events.Publish(userID, WebSocketMessage{
		Type: "board",
		Data: BoardEvent{Action: action, Board: slug, ID: id},
	})
}

func applyCardFields(card *database.Card, in CardInput) error {
	if in.Title != nil {
		card.Title = *in.Title
	}
	if in.Description != nil {
		card.Description = *in.Description
	}
	if in.Priority != nil {
		card.Priority = *in.Priority
	}
	if in.Deadline != nil {
		deadline, err := ParseDate(*in.Deadline)
		if err != nil {
			return err
		}
		card.Deadline = &deadline
	}
	return nil
}

func slugFor(name, id string) string {
	if slug := Slugify(name); slug != "" {
		return slug
	}
	// names without any latin letters or digits
	return id[:8]
}
