package records

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gridport-io/gridport/internal/forms"
	"github.com/gridport-io/gridport/internal/introspect"
	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/signalbus"
	"go.uber.org/zap"
)

const (
	// rows fetched per refresh
	DefaultFetchLimit = 100
	// rows shown per grid page
	DefaultPageSize = 20
)

// Browser is the scoped session behind the tabular data browser: it owns the
// current table's column set, its RecordSet and the change-feed subscription,
// and guarantees the subscription is torn down before a replacement is
// established. Row fetches are guarded by an initiation-order sequence so a
// slow stale fetch can never overwrite a fresher one.
type Browser struct {
	store        *Store
	introspector *introspect.Introspector
	bus          signalbus.SignalBus
	logger       *zap.SugaredLogger

	fetchLimit int
	pageSize   int

	mu         sync.Mutex
	table      string
	columns    []models.ColumnDescriptor
	set        *RecordSet
	sub        *signalbus.Subscription
	stopPump   chan struct{}
	fetchSeq   uint64
	appliedSeq uint64
	sortColumn string
	sortDesc   bool
	filter     string
}

func NewBrowser(store *Store, introspector *introspect.Introspector, bus signalbus.SignalBus, logger *zap.SugaredLogger) *Browser {
	return &Browser{
		store:        store,
		introspector: introspector,
		bus:          bus,
		logger:       logger,
		fetchLimit:   DefaultFetchLimit,
		pageSize:     DefaultPageSize,
		set:          NewRecordSet(nil),
	}
}

// SelectTable switches the browser to a table: the previous subscription is
// closed synchronously first, then schema and data are re-fetched and a new
// subscription established. In-flight fetches for the previous table are
// discarded when they resolve.
func (b *Browser) SelectTable(ctx context.Context, table string) error {
	columns, err := b.introspector.DescribeColumns(ctx, table)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.teardownLocked()
	b.table = table
	b.columns = columns
	b.set = NewRecordSet(nil)
	b.sortColumn = ""
	b.sortDesc = false
	b.filter = ""
	sub := b.bus.Subscribe(Topic(table))
	stop := make(chan struct{})
	b.sub = sub
	b.stopPump = stop
	b.mu.Unlock()

	go b.pump(sub, stop)

	return b.Refresh(ctx)
}

// teardownLocked unsubscribes and stops the pump. Must hold b.mu.
func (b *Browser) teardownLocked() {
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}
	if b.stopPump != nil {
		close(b.stopPump)
		b.stopPump = nil
	}
}

// Close tears down the active subscription. The browser can be reused by
// selecting another table.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
	b.table = ""
	b.columns = nil
	b.set = NewRecordSet(nil)
}

// pump applies queued change events to the record set in arrival order.
// A pump left over from a previous table selection no-ops: apply checks
// that its subscription is still the active one.
func (b *Browser) pump(sub *signalbus.Subscription, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sub.Signal():
			for {
				ev, ok := sub.Next()
				if !ok {
					break
				}
				b.apply(sub, ev)
			}
		}
	}
}

func (b *Browser) apply(sub *signalbus.Subscription, ev models.ChangeEvent) {
	b.mu.Lock()
	if b.sub != sub {
		b.mu.Unlock()
		return
	}
	if ev.Type == models.ChangeResync {
		// deltas may have been lost while the feed was down, so the record
		// set cannot be trusted until it is refetched
		table := b.table
		b.mu.Unlock()
		if err := b.Refresh(context.Background()); err != nil {
			subErr := &SubscriptionError{Table: table, Err: err}
			b.logger.Errorw("change feed resync failed", "error", subErr.Error())
		}
		return
	}
	if ev.Table != b.table {
		b.mu.Unlock()
		return
	}
	b.set.Apply(ev)
	b.mu.Unlock()
}

// Refresh re-fetches the current table's rows. The fetch sequence number is
// assigned at initiation; applyFetch enforces last-writer-wins by that
// order, not completion order.
func (b *Browser) Refresh(ctx context.Context) error {
	b.mu.Lock()
	table := b.table
	b.fetchSeq++
	seq := b.fetchSeq
	b.mu.Unlock()
	if table == "" {
		return nil
	}

	rows, err := b.store.FetchRows(ctx, table, b.fetchLimit)
	if err != nil {
		return err
	}
	b.applyFetch(seq, table, rows)
	return nil
}

// applyFetch installs fetch results unless they are stale: initiated before
// an already-applied fetch, or targeted at a table no longer displayed.
// It reports whether the results were applied.
func (b *Browser) applyFetch(seq uint64, table string, rows []models.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if table != b.table {
		return false
	}
	if seq <= b.appliedSeq {
		return false
	}
	b.set.Replace(rows)
	b.appliedSeq = seq
	return true
}

// Table returns the currently selected table name.
func (b *Browser) Table() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table
}

// Columns returns the selected table's column descriptors.
func (b *Browser) Columns() []models.ColumnDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ColumnDescriptor, len(b.columns))
	copy(out, b.columns)
	return out
}

// SetSort orders the grid by the given column. An empty column restores
// fetch order.
func (b *Browser) SetSort(column string, desc bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sortColumn = column
	b.sortDesc = desc
}

// SetFilter restricts the grid to rows where any value contains the query,
// case-insensitively.
func (b *Browser) SetFilter(query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = strings.ToLower(strings.TrimSpace(query))
}

// view returns the filtered, sorted rows.
func (b *Browser) view() []models.Record {
	b.mu.Lock()
	rows := b.set.Records()
	filter := b.filter
	sortColumn := b.sortColumn
	sortDesc := b.sortDesc
	b.mu.Unlock()

	if filter != "" {
		kept := rows[:0]
		for _, row := range rows {
			if recordMatches(row, filter) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	if sortColumn != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			less := compareValues(rows[i][sortColumn], rows[j][sortColumn])
			if sortDesc {
				return less > 0
			}
			return less < 0
		})
	}
	return rows
}

// Rows returns the full filtered, sorted view.
func (b *Browser) Rows() []models.Record {
	return b.view()
}

// Page returns one grid page (zero-based) of the view.
func (b *Browser) Page(page int) []models.Record {
	rows := b.view()
	start := page * b.pageSize
	if start < 0 || start >= len(rows) {
		return nil
	}
	end := start + b.pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// PageCount returns the number of grid pages in the current view.
func (b *Browser) PageCount() int {
	n := len(b.view())
	if n == 0 {
		return 0
	}
	return (n + b.pageSize - 1) / b.pageSize
}

// CreateForm opens a create-mode form for the current table, wired to insert
// through the store.
func (b *Browser) CreateForm() *forms.RecordForm {
	b.mu.Lock()
	table := b.table
	columns := b.columns
	b.mu.Unlock()
	return forms.NewRecordForm(columns, nil, forms.ModeCreate, func(ctx context.Context, draft models.Record) error {
		_, err := b.store.InsertRow(ctx, table, draft)
		return err
	})
}

// EditForm opens an edit-mode form pre-filled with the row's current values.
// The draft is a copy; reconciler activity does not leak into an open form.
func (b *Browser) EditForm(id string) (*forms.RecordForm, error) {
	b.mu.Lock()
	table := b.table
	columns := b.columns
	initial, ok := b.set.Get(id)
	b.mu.Unlock()
	if !ok {
		return nil, &ErrNotFound{Table: table, ID: id}
	}
	return forms.NewRecordForm(columns, initial, forms.ModeEdit, func(ctx context.Context, draft models.Record) error {
		return b.store.UpdateRow(ctx, table, id, draft)
	}), nil
}

// Delete removes a row by id. The local record set is not touched here; the
// reconciler removes the row when the delete event arrives, so the grid
// reflects what the database confirmed rather than an optimistic guess.
func (b *Browser) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	table := b.table
	b.mu.Unlock()
	return b.store.DeleteRow(ctx, table, id)
}

func recordMatches(row models.Record, filter string) bool {
	for _, v := range row {
		if v == nil {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), filter) {
			return true
		}
	}
	return false
}

// compareValues orders nulls first, numbers numerically, everything else
// lexically.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
