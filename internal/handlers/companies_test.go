package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gridport-io/gridport/internal/models"
)

func (suite *HandlerTestSuite) TestCreateListCompanies() {
	require := suite.Require()

	add := models.AddCompany{Name: "acme"}
	_, res, err := suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateCompany, suite.jsonBody(add))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)

	var company models.Company
	require.NoError(json.Unmarshal(res.Body.Bytes(), &company))
	require.NotEqual(uuid.Nil, company.ID)
	require.Equal("acme", company.Name)

	_, res, err = suite.ServeRequest(http.MethodGet, "/", "/", suite.api.ListCompanies, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var companies []models.Company
	require.NoError(json.Unmarshal(res.Body.Bytes(), &companies))
	require.Len(companies, 2)
	require.Equal("acme", companies[0].Name)
	require.Equal("testco", companies[1].Name)
}

// Creates point at the new resource. The Location header is relative until a
// base URL is configured, absolute after.
func (suite *HandlerTestSuite) TestCreateCompanyLocationHeader() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateCompany, suite.jsonBody(models.AddCompany{Name: "relco"}))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)

	var company models.Company
	require.NoError(json.Unmarshal(res.Body.Bytes(), &company))
	require.Equal("/api/companies/"+company.ID.String(), res.Header().Get("Location"))

	base, err := url.Parse("https://console.example.com")
	require.NoError(err)
	suite.api.URL = base.String()
	suite.api.URLParsed = base
	defer func() {
		suite.api.URL = ""
		suite.api.URLParsed = nil
	}()

	_, res, err = suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateCompany, suite.jsonBody(models.AddCompany{Name: "absco"}))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)
	require.NoError(json.Unmarshal(res.Body.Bytes(), &company))
	require.Equal("https://console.example.com/api/companies/"+company.ID.String(), res.Header().Get("Location"))
}

func (suite *HandlerTestSuite) TestCreateCompanyValidation() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateCompany, suite.jsonBody(models.AddCompany{}))
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
}

func (suite *HandlerTestSuite) TestGetCompany() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/:id", "/"+suite.testCompanyID.String(), suite.api.GetCompany, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:id", "/"+uuid.New().String(), suite.api.GetCompany, nil)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestDeleteCompanyRemovesDevices() {
	require := suite.Require()

	device := suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "orphaned", Type: "co2"})

	_, res, err := suite.ServeRequest(http.MethodDelete, "/:id", "/"+suite.testCompanyID.String(), suite.api.DeleteCompany, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:id", "/"+device.ID.String(), suite.api.GetDevice, nil)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestProfileRoundtrip() {
	require := suite.Require()

	// first read creates an empty profile
	_, res, err := suite.ServeRequest(http.MethodGet, "/:user_id", "/user-1", suite.api.GetProfile, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var profile models.Profile
	require.NoError(json.Unmarshal(res.Body.Bytes(), &profile))
	require.Equal("user-1", profile.UserID)
	require.Nil(profile.CurrentCompanyID)

	patch := map[string]interface{}{"current_company_id": suite.testCompanyID.String()}
	_, res, err = suite.ServeRequest(http.MethodPatch, "/:user_id", "/user-1", suite.api.UpdateProfile, suite.jsonBody(patch))
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:user_id", "/user-1", suite.api.GetProfile, nil)
	require.NoError(err)
	require.NoError(json.Unmarshal(res.Body.Bytes(), &profile))
	require.NotNil(profile.CurrentCompanyID)
	require.Equal(suite.testCompanyID, *profile.CurrentCompanyID)
}

func (suite *HandlerTestSuite) TestUpdateProfileUnknownCompany() {
	require := suite.Require()

	patch := map[string]interface{}{"current_company_id": uuid.New().String()}
	_, res, err := suite.ServeRequest(http.MethodPatch, "/:user_id", "/user-2", suite.api.UpdateProfile, suite.jsonBody(patch))
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestFeatureFlagEndpoints() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/", "/", suite.api.ListFeatureFlags, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var flags map[string]bool
	require.NoError(json.Unmarshal(res.Body.Bytes(), &flags))
	require.Contains(flags, "realtime")
	require.Contains(flags, "widgets")
	require.Contains(flags, "table-editor")

	_, res, err = suite.ServeRequest(http.MethodGet, "/:name", "/widgets", suite.api.GetFeatureFlag, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:name", "/warp-drive", suite.api.GetFeatureFlag, nil)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}
