package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gridport-io/gridport/internal/forms"
	"github.com/gridport-io/gridport/internal/models"
)

func (suite *HandlerTestSuite) TestListTables() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/", "/", suite.api.ListTables, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var tables []string
	require.NoError(json.Unmarshal(res.Body.Bytes(), &tables))
	require.Contains(tables, "companies")
	require.Contains(tables, "iot_devices")
	require.Contains(tables, "profiles")
	require.NotContains(tables, "schema_migrations")
}

func (suite *HandlerTestSuite) TestGetTableColumns() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/:table/columns", "/iot_devices/columns", suite.api.GetTableColumns, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var columns []models.ColumnDescriptor
	require.NoError(json.Unmarshal(res.Body.Bytes(), &columns))
	names := map[string]bool{}
	for _, col := range columns {
		names[col.Name] = true
	}
	require.True(names["id"])
	require.True(names["name"])
	require.True(names["raw_value"])
	require.True(names["status"])
}

func (suite *HandlerTestSuite) TestGetTableFieldsExcludesSystemColumns() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/:table/fields", "/iot_devices/fields?mode=edit", suite.api.GetTableFields, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var fields []forms.FieldSpec
	require.NoError(json.Unmarshal(res.Body.Bytes(), &fields))
	for _, f := range fields {
		require.NotEqual("id", f.Column)
		require.NotEqual("created_at", f.Column)
		require.NotEqual("updated_at", f.Column)
	}
}

func (suite *HandlerTestSuite) TestRowCrudThroughForms() {
	require := suite.Require()

	// unknown keys are dropped, not rejected
	payload := models.Record{"name": "generic", "owner_id": nil, "bogus": "ignored"}
	_, res, err := suite.ServeRequest(http.MethodPost, "/:table/rows", "/companies/rows", suite.api.CreateRow, suite.jsonBody(payload))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)

	var created models.Record
	require.NoError(json.Unmarshal(res.Body.Bytes(), &created))
	require.NotEmpty(created.ID())
	require.Equal("/api/tables/companies/rows/"+created.ID(), res.Header().Get("Location"))
	require.Equal("generic", created["name"])
	_, hasBogus := created["bogus"]
	require.False(hasBogus)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:table/rows/:id", "/companies/rows/"+created.ID(), suite.api.GetRow, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	patch := models.Record{"name": "renamed"}
	_, res, err = suite.ServeRequest(http.MethodPatch, "/:table/rows/:id", "/companies/rows/"+created.ID(), suite.api.UpdateRow, suite.jsonBody(patch))
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:table/rows/:id", "/companies/rows/"+created.ID(), suite.api.GetRow, nil)
	require.NoError(err)
	var fetched models.Record
	require.NoError(json.Unmarshal(res.Body.Bytes(), &fetched))
	require.Equal("renamed", fetched["name"])

	_, res, err = suite.ServeRequest(http.MethodDelete, "/:table/rows/:id", "/companies/rows/"+created.ID(), suite.api.DeleteRow, nil)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:table/rows/:id", "/companies/rows/"+created.ID(), suite.api.GetRow, nil)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestCreateRowRequiredField() {
	require := suite.Require()

	require.NoError(suite.api.db.Exec(`
		CREATE TABLE IF NOT EXISTS assets (
			id text PRIMARY KEY,
			label text NOT NULL,
			note text
		)`).Error)
	defer suite.api.db.Exec("DELETE FROM assets")

	_, res, err := suite.ServeRequest(http.MethodPost, "/:table/rows", "/assets/rows", suite.api.CreateRow, suite.jsonBody(models.Record{"note": "no label"}))
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)

	var body models.ValidationError
	require.NoError(json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal("label", body.Field)

	// empty string normalizes to null, which also fails the required check
	_, res, err = suite.ServeRequest(http.MethodPost, "/:table/rows", "/assets/rows", suite.api.CreateRow, suite.jsonBody(models.Record{"label": ""}))
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)

	_, res, err = suite.ServeRequest(http.MethodPost, "/:table/rows", "/assets/rows", suite.api.CreateRow, suite.jsonBody(models.Record{"label": "ok"}))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)
}

func (suite *HandlerTestSuite) TestListRows() {
	require := suite.Require()

	for _, name := range []string{"beta", "alpha"} {
		_, res, err := suite.ServeRequest(http.MethodPost, "/:table/rows", "/companies/rows", suite.api.CreateRow, suite.jsonBody(models.Record{"name": name}))
		require.NoError(err)
		require.Equal(http.StatusCreated, res.Code)
	}

	_, res, err := suite.ServeRequest(http.MethodGet, "/:table/rows", "/companies/rows", suite.api.ListRows, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	require.Equal("3", res.Header().Get(TotalCountHeader))

	var rows []models.Record
	require.NoError(json.Unmarshal(res.Body.Bytes(), &rows))
	// name order: alpha, beta, testco (created in BeforeTest)
	require.Equal("alpha", rows[0]["name"])
	require.Equal("beta", rows[1]["name"])
	require.Equal("testco", rows[2]["name"])
}

func (suite *HandlerTestSuite) TestGetRowExpandsReferences() {
	require := suite.Require()

	device := suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "probe", Type: "co2"})

	require.NoError(suite.api.db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id text PRIMARY KEY,
			device_id text REFERENCES iot_devices(id),
			value numeric
		)`).Error)
	defer suite.api.db.Exec("DELETE FROM readings")

	payload := models.Record{"device_id": device.ID.String(), "value": 42}
	_, res, err := suite.ServeRequest(http.MethodPost, "/:table/rows", "/readings/rows", suite.api.CreateRow, suite.jsonBody(payload))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)
	var created models.Record
	require.NoError(json.Unmarshal(res.Body.Bytes(), &created))

	_, res, err = suite.ServeRequest(http.MethodGet, "/:table/rows/:id", "/readings/rows/"+created.ID()+"?expand=true", suite.api.GetRow, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var expanded struct {
		Record     models.Record            `json:"record"`
		References map[string]models.Record `json:"references"`
	}
	require.NoError(json.Unmarshal(res.Body.Bytes(), &expanded))
	require.Equal(created.ID(), expanded.Record.ID())
	require.Equal("probe", expanded.References["device_id"]["name"])
}

func (suite *HandlerTestSuite) TestTableEditorFlagGatesWrites() {
	require := suite.Require()

	suite.T().Setenv("GRIDPORT_FFLAG_TABLE_EDITOR", "false")

	_, res, err := suite.ServeRequest(http.MethodPost, "/:table/rows", "/companies/rows", suite.api.CreateRow, suite.jsonBody(models.Record{"name": "x"}))
	require.NoError(err)
	require.Equal(http.StatusMethodNotAllowed, res.Code)

	_, res, err = suite.ServeRequest(http.MethodPatch, "/:table/rows/:id", "/companies/rows/x", suite.api.UpdateRow, suite.jsonBody(models.Record{"name": "x"}))
	require.NoError(err)
	require.Equal(http.StatusMethodNotAllowed, res.Code)

	_, res, err = suite.ServeRequest(http.MethodDelete, "/:table/rows/:id", "/companies/rows/x", suite.api.DeleteRow, nil)
	require.NoError(err)
	require.Equal(http.StatusMethodNotAllowed, res.Code)

	// reads stay available
	_, res, err = suite.ServeRequest(http.MethodGet, "/:table/rows", "/companies/rows", suite.api.ListRows, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
}

func (suite *HandlerTestSuite) TestBadTableName() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/:table/rows", "/drop%20table/rows", suite.api.ListRows, nil)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
}
