package records

import (
	"context"
	"testing"
	"time"

	"github.com/gridport-io/gridport/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBrowser(t *testing.T) (*Browser, *Store) {
	t.Helper()
	store, bus, introspector := newTestStore(t)
	logger := zaptest.NewLogger(t).Sugar()
	return NewBrowser(store, introspector, bus, logger), store
}

func browserHasNames(b *Browser, names ...string) func() bool {
	return func() bool {
		rows := b.Rows()
		if len(rows) != len(names) {
			return false
		}
		for i, name := range names {
			if rows[i]["name"] != name {
				return false
			}
		}
		return true
	}
}

func TestBrowserSelectTableLoadsRows(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b, store := newTestBrowser(t)
	defer b.Close()

	_, err := store.InsertRow(ctx, "companies", models.Record{"name": "acme"})
	require.NoError(err)

	require.NoError(b.SelectTable(ctx, "companies"))
	require.Equal("companies", b.Table())
	require.True(browserHasNames(b, "acme")())

	var colNames []string
	for _, col := range b.Columns() {
		colNames = append(colNames, col.Name)
	}
	require.Contains(colNames, "id")
	require.Contains(colNames, "name")
}

func TestBrowserAppliesChangeEventsInOrder(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b, store := newTestBrowser(t)
	defer b.Close()

	require.NoError(b.SelectTable(ctx, "companies"))

	created, err := store.InsertRow(ctx, "companies", models.Record{"name": "acme"})
	require.NoError(err)
	require.Eventually(browserHasNames(b, "acme"), 2*time.Second, time.Millisecond)

	require.NoError(store.UpdateRow(ctx, "companies", created.ID(), models.Record{"name": "acme 2"}))
	require.Eventually(browserHasNames(b, "acme 2"), 2*time.Second, time.Millisecond)

	require.NoError(store.DeleteRow(ctx, "companies", created.ID()))
	require.Eventually(browserHasNames(b), 2*time.Second, time.Millisecond)
}

// A resync event means deltas may have been lost, so the browser refetches
// instead of trusting its record set.
func TestBrowserResyncTriggersRefetch(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store, bus, introspector := newTestStore(t)
	b := NewBrowser(store, introspector, bus, zaptest.NewLogger(t).Sugar())
	defer b.Close()

	_, err := store.InsertRow(ctx, "companies", models.Record{"name": "acme"})
	require.NoError(err)
	require.NoError(b.SelectTable(ctx, "companies"))
	require.True(browserHasNames(b, "acme")())

	// a write this browser never got an event for, as after a feed outage
	res := store.db.Exec("INSERT INTO companies (id, name) VALUES (?, ?)", "missed-1", "missed")
	require.NoError(res.Error)
	require.Never(browserHasNames(b, "acme", "missed"), 200*time.Millisecond, 10*time.Millisecond)

	bus.ResyncAll()
	require.Eventually(browserHasNames(b, "acme", "missed"), 2*time.Second, time.Millisecond)
}

func TestBrowserTableSwitchStopsOldFeed(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b, store := newTestBrowser(t)
	defer b.Close()

	require.NoError(b.SelectTable(ctx, "companies"))
	require.NoError(b.SelectTable(ctx, "iot_devices"))
	require.Equal("iot_devices", b.Table())

	// a company insert must not surface in the device view
	_, err := store.InsertRow(ctx, "companies", models.Record{"name": "late"})
	require.NoError(err)
	require.Never(func() bool { return len(b.Rows()) != 0 }, 250*time.Millisecond, 10*time.Millisecond)
}

func TestBrowserStaleFetchIsDiscarded(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b, _ := newTestBrowser(t)
	defer b.Close()

	require.NoError(b.SelectTable(ctx, "companies"))

	b.mu.Lock()
	b.fetchSeq += 2
	older := b.fetchSeq - 1
	newer := b.fetchSeq
	b.mu.Unlock()

	// completing out of initiation order: the newer fetch lands first
	require.True(b.applyFetch(newer, "companies", []models.Record{row("n", "name", "fresh")}))
	require.False(b.applyFetch(older, "companies", []models.Record{row("o", "name", "stale")}))
	require.True(browserHasNames(b, "fresh")())

	// a fetch for a table no longer displayed is dropped too
	b.mu.Lock()
	b.fetchSeq++
	other := b.fetchSeq
	b.mu.Unlock()
	require.False(b.applyFetch(other, "iot_devices", []models.Record{row("x")}))
	require.True(browserHasNames(b, "fresh")())
}

func TestBrowserSortAndFilter(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b, store := newTestBrowser(t)
	defer b.Close()

	for name, value := range map[string]float64{"gamma": 3, "alpha": 1, "beta": 2} {
		v := value
		_, err := store.InsertRow(ctx, "iot_devices", models.Record{
			"name": name, "type": "co2", "raw_value": v,
			"company_id": "11111111-1111-1111-1111-111111111111",
		})
		require.NoError(err)
	}
	require.NoError(b.SelectTable(ctx, "iot_devices"))
	require.True(browserHasNames(b, "alpha", "beta", "gamma")())

	b.SetSort("raw_value", true)
	rows := b.Rows()
	require.Equal("gamma", rows[0]["name"])
	require.Equal("alpha", rows[2]["name"])

	b.SetSort("", false)
	b.SetFilter("ALph")
	require.True(browserHasNames(b, "alpha")())

	b.SetFilter("")
	require.Equal(3, len(b.Rows()))
}

func TestBrowserPaging(t *testing.T) {
	require := require.New(t)
	b, _ := newTestBrowser(t)
	defer b.Close()

	var rows []models.Record
	for i := 0; i < 45; i++ {
		rows = append(rows, row(string(rune('a'+i/26))+string(rune('a'+i%26))))
	}
	b.mu.Lock()
	b.table = "companies"
	b.mu.Unlock()
	require.True(b.applyFetch(1, "companies", rows))

	require.Equal(3, b.PageCount())
	require.Equal(DefaultPageSize, len(b.Page(0)))
	require.Equal(DefaultPageSize, len(b.Page(1)))
	require.Equal(5, len(b.Page(2)))
	require.Nil(b.Page(3))
	require.Nil(b.Page(-1))
}

func TestBrowserForms(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b, store := newTestBrowser(t)
	defer b.Close()

	require.NoError(b.SelectTable(ctx, "companies"))

	form := b.CreateForm()
	require.NoError(form.SetField("name", "formed"))
	require.NoError(form.Submit(ctx))
	require.False(form.IsOpen())
	require.Eventually(browserHasNames(b, "formed"), 2*time.Second, time.Millisecond)

	id := b.Rows()[0].ID()
	edit, err := b.EditForm(id)
	require.NoError(err)
	require.Equal("formed", edit.Draft()["name"])
	require.NoError(edit.SetField("name", "edited"))
	require.NoError(edit.Submit(ctx))
	require.Eventually(browserHasNames(b, "edited"), 2*time.Second, time.Millisecond)

	_, err = b.EditForm("missing")
	var notFound *ErrNotFound
	require.ErrorAs(err, &notFound)

	require.NoError(b.Delete(ctx, id))
	require.Eventually(browserHasNames(b), 2*time.Second, time.Millisecond)

	created, err := store.FetchRows(ctx, "companies", 10)
	require.NoError(err)
	require.Empty(created)
}
