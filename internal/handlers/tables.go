package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/forms"
	"github.com/gridport-io/gridport/internal/introspect"
	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/records"
)

// ListTables returns the user-schema table names.
// Reserved and bookkeeping tables are filtered out by the introspector.
func (api *API) ListTables(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListTables")
	defer span.End()

	tables, err := api.introspector.ListTables(ctx)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, tables)
}

// GetTableColumns returns the column metadata for one table. An absent
// table yields an empty set, not an error.
func (api *API) GetTableColumns(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetTableColumns")
	defer span.End()

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}
	columns, err := api.introspector.DescribeColumns(ctx, table)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, columns)
}

// GetTableFields returns the editable field specs the record form would
// show for the table in the requested mode (default create).
func (api *API) GetTableFields(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetTableFields")
	defer span.End()

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}
	mode := forms.ModeCreate
	if c.Query("mode") == "edit" {
		mode = forms.ModeEdit
	}
	columns, err := api.introspector.DescribeColumns(ctx, table)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, forms.EditableFields(columns, mode))
}

// ListRows returns up to 100 rows of a table, ordered by name where the
// table has one. With ?watch=true the response is a change-event stream
// instead.
func (api *API) ListRows(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListRows")
	defer span.End()

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}

	if c.Query("watch") == "true" {
		if enabled, err := api.fflags.GetFlag("realtime"); err != nil || !enabled {
			c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError("realtime support is disabled"))
			return
		}
		api.sendWatch(c, ctx, records.Topic(table), func() ([]interface{}, error) {
			rows, err := api.store.FetchRows(ctx, table, fetchLimit(c))
			if err != nil {
				return nil, err
			}
			items := make([]interface{}, len(rows))
			for i, row := range rows {
				items[i] = row
			}
			return items, nil
		}, nil)
		return
	}

	rows, err := api.store.FetchRows(ctx, table, fetchLimit(c))
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	c.Header("Access-Control-Expose-Headers", TotalCountHeader)
	c.Header(TotalCountHeader, strconv.Itoa(len(rows)))
	c.JSON(http.StatusOK, rows)
}

// GetRow returns one row by id. With ?expand=true, foreign-key columns are
// resolved into the referenced records.
func (api *API) GetRow(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetRow")
	defer span.End()

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}
	id := c.Param("id")

	row, err := api.store.FetchRow(ctx, table, id)
	if err != nil {
		var notFound *records.ErrNotFound
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, models.NewNotFoundError(table))
			return
		}
		api.sendInternalServerError(c, err)
		return
	}

	if c.Query("expand") != "true" {
		c.JSON(http.StatusOK, row)
		return
	}

	columns, err := api.introspector.DescribeColumns(ctx, table)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	references := map[string]models.Record{}
	for _, col := range columns {
		if col.ForeignTable == "" || row[col.Name] == nil {
			continue
		}
		ref, err := api.store.FetchRow(ctx, col.ForeignTable, models.Record{"id": row[col.Name]}.ID())
		if err != nil {
			// a dangling reference is the row's problem, not the view's
			continue
		}
		references[col.Name] = ref
	}
	c.JSON(http.StatusOK, gin.H{
		"record":     row,
		"references": references,
	})
}

// CreateRow inserts a row built from the posted draft. The editable field
// set is derived from the introspected columns in create mode: system
// columns and columns with server defaults are dropped, empty strings are
// normalized to null, and unknown keys are ignored.
func (api *API) CreateRow(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateRow")
	defer span.End()

	if enabled, err := api.fflags.GetFlag("table-editor"); err != nil || !enabled {
		c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError("table editing is disabled"))
		return
	}

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}
	var payload models.Record
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	columns, err := api.introspector.DescribeColumns(ctx, table)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}

	var created models.Record
	form := forms.NewRecordForm(columns, nil, forms.ModeCreate, func(ctx context.Context, draft models.Record) error {
		var err error
		created, err = api.store.InsertRow(ctx, table, draft)
		return err
	})
	api.submitForm(c, ctx, form, payload, func() {
		c.Header("Location", api.resourceURL(fmt.Sprintf("/api/tables/%s/rows/%s", table, created.ID())))
		c.JSON(http.StatusCreated, created)
	})
}

// UpdateRow applies the posted draft to the row with the given id, filtered
// through the edit-mode field set.
func (api *API) UpdateRow(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "UpdateRow")
	defer span.End()

	if enabled, err := api.fflags.GetFlag("table-editor"); err != nil || !enabled {
		c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError("table editing is disabled"))
		return
	}

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}
	id := c.Param("id")
	var payload models.Record
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}

	existing, err := api.store.FetchRow(ctx, table, id)
	if err != nil {
		var notFound *records.ErrNotFound
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, models.NewNotFoundError(table))
			return
		}
		api.sendInternalServerError(c, err)
		return
	}
	columns, err := api.introspector.DescribeColumns(ctx, table)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}

	form := forms.NewRecordForm(columns, existing, forms.ModeEdit, func(ctx context.Context, draft models.Record) error {
		return api.store.UpdateRow(ctx, table, id, draft)
	})
	api.submitForm(c, ctx, form, payload, func() {
		c.Status(http.StatusNoContent)
	})
}

// DeleteRow removes the row with the given id. The caller's view catches up
// through the change feed; no optimistic response body is produced.
func (api *API) DeleteRow(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "DeleteRow")
	defer span.End()

	if enabled, err := api.fflags.GetFlag("table-editor"); err != nil || !enabled {
		c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError("table editing is disabled"))
		return
	}

	table := c.Param("table")
	if !introspect.ValidIdentifier(table) {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("table"))
		return
	}
	id := c.Param("id")
	if err := api.store.DeleteRow(ctx, table, id); err != nil {
		var notFound *records.ErrNotFound
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, models.NewNotFoundError(table))
			return
		}
		api.sendInternalServerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// submitForm feeds the posted payload through a record form and maps the
// submit outcome to an HTTP response. Keys outside the editable field set
// are dropped, which guarantees the stored draft contains exactly the
// filtered columns.
func (api *API) submitForm(c *gin.Context, ctx context.Context, form *forms.RecordForm, payload models.Record, onSuccess func()) {
	for key, value := range payload {
		if err := form.SetField(key, value); err != nil {
			var unknown *forms.UnknownFieldError
			if errors.As(err, &unknown) {
				continue
			}
			api.sendInternalServerError(c, err)
			return
		}
	}
	if err := form.Submit(ctx); err != nil {
		var required *forms.RequiredFieldError
		if errors.As(err, &required) {
			c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError(required.Field))
			return
		}
		var write *records.WriteError
		if errors.As(err, &write) && database.IsDuplicateError(write.Err) {
			c.JSON(http.StatusConflict, models.NewConflictsError(payload.ID()))
			return
		}
		api.sendInternalServerError(c, err)
		return
	}
	onSuccess()
}
