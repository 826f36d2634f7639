package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/taskpro/database"
)

type boardFixture struct {
	store  *database.Store
	svc    *BoardService
	events *recordingPublisher
	owner  *database.User
}

func newBoardFixture(t *testing.T) *boardFixture {
	t.Helper()
	store := newTestStore(t)
	events := &recordingPublisher{}
	return &boardFixture{
		store:  store,
		svc:    NewBoardService(store, nil, events, newTestLogger()),
		events: events,
		owner:  createTestUser(t, store, "owner@example.com"),
	}
}

// reload returns the board as currently stored
func (f *boardFixture) reload(t *testing.T, d *database.Dashboard) *database.Dashboard {
	t.Helper()
	got, err := f.store.GetDashboard(context.Background(), d.ID)
	require.NoError(t, err)
	return got
}

func (f *boardFixture) board(t *testing.T, name string) *database.Dashboard {
	t.Helper()
	d, err := f.svc.CreateDashboard(context.Background(), f.owner, DashboardInput{Name: strPtr(name)})
	require.NoError(t, err)
	return d
}

func (f *boardFixture) column(t *testing.T, d *database.Dashboard, name string) *database.Column {
	t.Helper()
	col, err := f.svc.CreateColumn(context.Background(), f.reload(t, d), ColumnInput{Name: strPtr(name)})
	require.NoError(t, err)
	return col
}

func (f *boardFixture) card(t *testing.T, d *database.Dashboard, columnID, title string) *database.Card {
	t.Helper()
	card, err := f.svc.CreateCard(context.Background(), f.reload(t, d), columnID, CardInput{Title: strPtr(title)})
	require.NoError(t, err)
	return card
}

func TestCreateDashboard(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)

	d := f.board(t, "My Dashboard")
	assert.Equal(t, "my-dashboard", d.Slug)
	assert.Equal(t, f.owner.ID, d.Owner)
	assert.Empty(t, d.Columns)

	_, err := f.svc.CreateDashboard(ctx, f.owner, DashboardInput{Name: strPtr("My Dashboard")})
	assert.ErrorIs(t, err, ErrConflict)

	t.Run("name is required", func(t *testing.T) {
		_, err := f.svc.CreateDashboard(ctx, f.owner, DashboardInput{Icon: strPtr("icon-1")})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{`"name" is required`}, verr.Messages())
	})

	t.Run("name without latin characters", func(t *testing.T) {
		d, err := f.svc.CreateDashboard(ctx, f.owner, DashboardInput{Name: strPtr("日本")})
		require.NoError(t, err)
		assert.Equal(t, d.ID[:8], d.Slug)
	})

	boards, err := f.svc.ListDashboards(ctx, f.owner)
	require.NoError(t, err)
	assert.Len(t, boards, 2)
}

func TestUpdateDashboard(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)

	d := f.board(t, "Work")
	f.board(t, "Home")

	updated, err := f.svc.UpdateDashboard(ctx, d, DashboardInput{Name: strPtr("Side Project"), Icon: strPtr("icon-2")})
	require.NoError(t, err)
	assert.Equal(t, "side-project", updated.Slug)
	assert.Equal(t, "icon-2", updated.Icon)

	_, err = f.svc.UpdateDashboard(ctx, f.reload(t, d), DashboardInput{Name: strPtr("Home")})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "side-project", f.reload(t, d).Slug)
}

func TestDashboardNameTakenOnlyRewritesDuplicates(t *testing.T) {
	err := dashboardNameTaken(storeError("Dashboard", database.ErrDuplicate))
	assert.EqualError(t, err, "Dashboard with this name already exists")
	assert.ErrorIs(t, err, ErrConflict)

	err = dashboardNameTaken(storeError("Dashboard", database.ErrStaleVersion))
	assert.EqualError(t, err, "Dashboard was changed by another request")
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, database.ErrStaleVersion)

	err = dashboardNameTaken(notFound("Dashboard"))
	assert.EqualError(t, err, "Dashboard not found")
}

func TestColumnDeleteRemovesItsCards(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)

	d := f.board(t, "My Dashboard")
	col := f.column(t, d, "To Do")
	card := f.card(t, d, col.ID, "X")

	require.NoError(t, f.svc.DeleteColumn(ctx, f.reload(t, d), col.ID))

	_, err := f.store.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.GetColumn(ctx, col.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, f.reload(t, d).Columns)
}

func TestDeleteColumn(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	col := f.column(t, d, "To Do")

	t.Run("stray cards pointing at the column go too", func(t *testing.T) {
		stray := &database.Card{Title: "stray", ColumnID: col.ID}
		require.NoError(t, f.store.CreateCard(ctx, stray))

		other := f.column(t, d, "Done")
		require.NoError(t, f.svc.DeleteColumn(ctx, f.reload(t, d), col.ID))

		_, err := f.store.GetCard(ctx, stray.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
		assert.Equal(t, database.IDList{other.ID}, f.reload(t, d).Columns)
	})

	t.Run("unknown column leaves the board untouched", func(t *testing.T) {
		before := f.reload(t, d)
		err := f.svc.DeleteColumn(ctx, before, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, before.Version, f.reload(t, d).Version)
	})

	t.Run("column of another board", func(t *testing.T) {
		other := f.board(t, "Other")
		foreign := f.column(t, other, "Theirs")

		err := f.svc.DeleteColumn(ctx, f.reload(t, d), foreign.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.store.GetColumn(ctx, foreign.ID)
		assert.NoError(t, err)
	})
}

func TestUpdateColumn(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	a := f.column(t, d, "A")
	b := f.column(t, d, "B")
	c := f.column(t, d, "C")

	t.Run("rename", func(t *testing.T) {
		res, err := f.svc.UpdateColumn(ctx, f.reload(t, d), b.ID, ColumnInput{Name: strPtr("Bee")})
		require.NoError(t, err)
		assert.True(t, res.Renamed)
		assert.False(t, res.Moved)
		assert.Equal(t, "Bee", res.Column.Name)
		assert.Equal(t, database.IDList{a.ID, b.ID, c.ID}, res.Columns)
	})

	t.Run("move", func(t *testing.T) {
		res, err := f.svc.UpdateColumn(ctx, f.reload(t, d), c.ID, ColumnInput{Position: intPtr(0)})
		require.NoError(t, err)
		assert.True(t, res.Moved)
		assert.Equal(t, database.IDList{c.ID, a.ID, b.ID}, res.Columns)
		assert.Equal(t, res.Columns, f.reload(t, d).Columns)
	})

	t.Run("move past the end appends", func(t *testing.T) {
		res, err := f.svc.UpdateColumn(ctx, f.reload(t, d), c.ID, ColumnInput{Position: intPtr(99)})
		require.NoError(t, err)
		assert.Equal(t, database.IDList{a.ID, b.ID, c.ID}, res.Columns)
	})

	t.Run("rename and move at once", func(t *testing.T) {
		res, err := f.svc.UpdateColumn(ctx, f.reload(t, d), a.ID, ColumnInput{Name: strPtr("Ay"), Position: intPtr(2)})
		require.NoError(t, err)
		assert.True(t, res.Renamed)
		assert.True(t, res.Moved)
		assert.Equal(t, database.IDList{b.ID, c.ID, a.ID}, res.Columns)

		col, err := f.store.GetColumn(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ay", col.Name)
	})

	t.Run("non-member column", func(t *testing.T) {
		_, err := f.svc.UpdateColumn(ctx, f.reload(t, d), "missing", ColumnInput{Position: intPtr(0)})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("needs a field", func(t *testing.T) {
		_, err := f.svc.UpdateColumn(ctx, f.reload(t, d), a.ID, ColumnInput{})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestCreateCard(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	col := f.column(t, d, "To Do")

	high := database.PriorityHigh
	card, err := f.svc.CreateCard(ctx, f.reload(t, d), col.ID, CardInput{
		Title:       strPtr("Ship it"),
		Description: strPtr("before friday"),
		Priority:    &high,
		Deadline:    strPtr("2026-11-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, col.ID, card.ColumnID)
	assert.Equal(t, database.PriorityHigh, card.Priority)
	require.NotNil(t, card.Deadline)
	assert.Equal(t, 2026, card.Deadline.Year())

	second := f.card(t, d, col.ID, "Then rest")
	assert.Equal(t, database.PriorityWithout, second.Priority)

	saved, err := f.store.GetColumn(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, database.IDList{card.ID, second.ID}, saved.Cards)

	t.Run("column of another board", func(t *testing.T) {
		other := f.board(t, "Other")
		foreign := f.column(t, other, "Theirs")

		_, err := f.svc.CreateCard(ctx, f.reload(t, d), foreign.ID, CardInput{Title: strPtr("nope")})
		assert.ErrorIs(t, err, ErrNotFound)

		col, err := f.store.GetColumn(ctx, foreign.ID)
		require.NoError(t, err)
		assert.Empty(t, col.Cards)
	})

	t.Run("column id in the body is rejected", func(t *testing.T) {
		_, err := f.svc.CreateCard(ctx, f.reload(t, d), col.ID, CardInput{Title: strPtr("x"), ColumnID: strPtr(col.ID)})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{`"columnId" is not allowed`}, verr.Messages())
	})
}

func TestUpdateCard(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	a := f.column(t, d, "A")
	b := f.column(t, d, "B")
	card := f.card(t, d, a.ID, "Move me")

	t.Run("re-parent to another column", func(t *testing.T) {
		updated, err := f.svc.UpdateCard(ctx, f.reload(t, d), card.ID, CardInput{ColumnID: strPtr(b.ID), Title: strPtr("Moved")})
		require.NoError(t, err)
		assert.Equal(t, b.ID, updated.ColumnID)
		assert.Equal(t, "Moved", updated.Title)

		from, err := f.store.GetColumn(ctx, a.ID)
		require.NoError(t, err)
		to, err := f.store.GetColumn(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, from.Cards)
		assert.Equal(t, database.IDList{card.ID}, to.Cards)
	})

	t.Run("same column is not a move", func(t *testing.T) {
		_, err := f.svc.UpdateCard(ctx, f.reload(t, d), card.ID, CardInput{ColumnID: strPtr(b.ID)})
		require.NoError(t, err)

		to, err := f.store.GetColumn(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, database.IDList{card.ID}, to.Cards)
	})

	t.Run("column of another board", func(t *testing.T) {
		other := f.board(t, "Other")
		foreign := f.column(t, other, "Theirs")

		_, err := f.svc.UpdateCard(ctx, f.reload(t, d), card.ID, CardInput{ColumnID: strPtr(foreign.ID)})
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := f.store.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ColumnID)
	})

	t.Run("card of another board", func(t *testing.T) {
		other := f.reload(t, f.board(t, "Elsewhere"))
		_, err := f.svc.UpdateCard(ctx, other, card.ID, CardInput{Title: strPtr("hijack")})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown card", func(t *testing.T) {
		_, err := f.svc.UpdateCard(ctx, f.reload(t, d), "missing", CardInput{Title: strPtr("x")})
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Card", nf.Kind)
	})
}

func TestDeleteCard(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	col := f.column(t, d, "A")
	first := f.card(t, d, col.ID, "one")
	second := f.card(t, d, col.ID, "two")

	require.NoError(t, f.svc.DeleteCard(ctx, f.reload(t, d), first.ID))

	saved, err := f.store.GetColumn(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, database.IDList{second.ID}, saved.Cards)

	t.Run("column record already gone", func(t *testing.T) {
		require.NoError(t, f.store.DeleteColumn(ctx, col.ID))
		require.NoError(t, f.svc.DeleteCard(ctx, f.reload(t, d), second.ID))

		_, err := f.store.GetCard(ctx, second.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("unknown card", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.DeleteCard(ctx, f.reload(t, d), "missing"), ErrNotFound)
	})
}

func TestDeleteDashboardCascades(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	a := f.column(t, d, "A")
	b := f.column(t, d, "B")
	c1 := f.card(t, d, a.ID, "one")
	c2 := f.card(t, d, b.ID, "two")

	keep := f.board(t, "Keep")
	kept := f.column(t, keep, "Stay")
	keptCard := f.card(t, keep, kept.ID, "stays")

	// a dangling column id must not stop the cascade
	require.NoError(t, f.store.DeleteColumn(ctx, b.ID))

	require.NoError(t, f.svc.DeleteDashboard(ctx, f.owner, "work"))

	_, err := f.store.GetDashboard(ctx, d.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.GetColumn(ctx, a.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	for _, id := range []string{c1.ID, c2.ID} {
		_, err = f.store.GetCard(ctx, id)
		assert.ErrorIs(t, err, database.ErrNotFound)
	}

	_, err = f.store.GetCard(ctx, keptCard.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteDashboard(ctx, f.owner, "work"), ErrNotFound)
}

func TestViewOrdersColumnsAndCards(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	a := f.column(t, d, "A")
	b := f.column(t, d, "B")
	f.card(t, d, b.ID, "b1")
	f.card(t, d, b.ID, "b2")
	f.card(t, d, a.ID, "a1")

	_, err := f.svc.UpdateColumn(ctx, f.reload(t, d), b.ID, ColumnInput{Position: intPtr(0)})
	require.NoError(t, err)

	view, err := f.svc.View(ctx, f.reload(t, d))
	require.NoError(t, err)
	require.Len(t, view.Columns, 2)
	assert.Equal(t, "B", view.Columns[0].Name)
	require.Len(t, view.Columns[0].Cards, 2)
	assert.Equal(t, "b1", view.Columns[0].Cards[0].Title)
	assert.Equal(t, "b2", view.Columns[0].Cards[1].Title)
	assert.Equal(t, "a1", view.Columns[1].Cards[0].Title)
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	f := newBoardFixture(t)
	d := f.board(t, "Work")
	col := f.column(t, d, "A")
	card := f.card(t, d, col.ID, "x")
	require.NoError(t, f.svc.DeleteCard(ctx, f.reload(t, d), card.ID))

	assert.Equal(t, []string{"board.created", "column.created", "card.created", "card.deleted"}, f.events.actions())
	for _, u := range f.events.users {
		assert.Equal(t, f.owner.ID, u)
	}
}

func TestConcurrentColumnCreatesBothLand(t *testing.T) {
	ctx := context.Background()
	db, err := database.InitDB(ctx, filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := database.NewStore(db)
	svc := NewBoardService(store, nil, nil, newTestLogger())
	owner := createTestUser(t, store, "race@example.com")
	d, err := svc.CreateDashboard(ctx, owner, DashboardInput{Name: strPtr("Race")})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// every goroutine works from the same stale snapshot
			_, err := svc.CreateColumn(ctx, d, ColumnInput{Name: strPtr("col")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	saved, err := store.GetDashboard(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Columns, n)
	assert.EqualValues(t, n, saved.Version)
}
