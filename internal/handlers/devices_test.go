package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gridport-io/gridport/internal/models"
)

func floatPtr(f float64) *float64 {
	return &f
}

func boolPtr(b bool) *bool {
	return &b
}

func (suite *HandlerTestSuite) createDevice(add models.AddDevice) models.Device {
	require := suite.Require()
	_, res, err := suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateDevice, suite.jsonBody(add))
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code)
	var device models.Device
	require.NoError(json.Unmarshal(res.Body.Bytes(), &device))
	require.Equal("/api/devices/"+device.ID.String(), res.Header().Get("Location"))
	return device
}

func (suite *HandlerTestSuite) TestCreateGetDevice() {
	require := suite.Require()

	device := suite.createDevice(models.AddDevice{
		CompanyID: suite.testCompanyID,
		Name:      "warehouse-co2",
		Type:      "co2",
		RawValue:  floatPtr(450),
	})
	require.NotEqual(uuid.Nil, device.ID)
	require.Equal("warehouse-co2", device.Name)
	require.Equal(450.0, *device.RawValue)

	_, res, err := suite.ServeRequest(http.MethodGet, "/:id", "/"+device.ID.String(), suite.api.GetDevice, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	var fetched models.Device
	require.NoError(json.Unmarshal(res.Body.Bytes(), &fetched))
	require.Equal(device.ID, fetched.ID)
}

func (suite *HandlerTestSuite) TestCreateDeviceValidation() {
	require := suite.Require()

	cases := []models.AddDevice{
		{CompanyID: suite.testCompanyID, Type: "co2"},  // missing name
		{CompanyID: suite.testCompanyID, Name: "dev"},  // missing type
		{Name: "dev", Type: "co2"},                     // missing company
	}
	for _, add := range cases {
		_, res, err := suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateDevice, suite.jsonBody(add))
		require.NoError(err)
		require.Equal(http.StatusBadRequest, res.Code)
	}

	// unknown company
	add := models.AddDevice{CompanyID: uuid.New(), Name: "dev", Type: "co2"}
	_, res, err := suite.ServeRequest(http.MethodPost, "/", "/", suite.api.CreateDevice, suite.jsonBody(add))
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestListDevicesScopedAndOrdered() {
	require := suite.Require()

	other := models.Company{Name: "otherco"}
	require.NoError(suite.api.db.Create(&other).Error)

	for _, name := range []string{"zeta", "alpha"} {
		suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: name, Type: "co2"})
	}
	suite.createDevice(models.AddDevice{CompanyID: other.ID, Name: "elsewhere", Type: "door"})

	_, res, err := suite.ServeRequest(http.MethodGet, "/", "/?company_id="+suite.testCompanyID.String(), suite.api.ListDevices, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	require.Equal("2", res.Header().Get(TotalCountHeader))

	var devices []models.Device
	require.NoError(json.Unmarshal(res.Body.Bytes(), &devices))
	require.Len(devices, 2)
	require.Equal("alpha", devices[0].Name)
	require.Equal("zeta", devices[1].Name)
}

func (suite *HandlerTestSuite) TestUpdateDevice() {
	require := suite.Require()

	device := suite.createDevice(models.AddDevice{
		CompanyID: suite.testCompanyID,
		Name:      "meter",
		Type:      "power",
		RawValue:  floatPtr(100),
	})

	patch := models.UpdateDevice{RawValue: floatPtr(2500)}
	_, res, err := suite.ServeRequest(http.MethodPatch, "/:id", "/"+device.ID.String(), suite.api.UpdateDevice, suite.jsonBody(patch))
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var updated models.Device
	require.NoError(json.Unmarshal(res.Body.Bytes(), &updated))
	require.Equal(2500.0, *updated.RawValue)
	require.Equal("meter", updated.Name) // nil fields stay unchanged

	_, res, err = suite.ServeRequest(http.MethodPatch, "/:id", "/"+uuid.New().String(), suite.api.UpdateDevice, suite.jsonBody(patch))
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestDeleteDevice() {
	require := suite.Require()

	device := suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "doomed", Type: "door"})

	_, res, err := suite.ServeRequest(http.MethodDelete, "/:id", "/"+device.ID.String(), suite.api.DeleteDevice, nil)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/:id", "/"+device.ID.String(), suite.api.GetDevice, nil)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestDeviceMutationsPublishChangeEvents() {
	require := suite.Require()

	sub := suite.api.signalBus.Subscribe("table:iot_devices")
	defer sub.Close()

	device := suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "sensor", Type: "co2", RawValue: floatPtr(400)})

	patch := models.UpdateDevice{RawValue: floatPtr(900)}
	_, res, err := suite.ServeRequest(http.MethodPatch, "/:id", "/"+device.ID.String(), suite.api.UpdateDevice, suite.jsonBody(patch))
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(http.MethodDelete, "/:id", "/"+device.ID.String(), suite.api.DeleteDevice, nil)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	ev, ok := sub.Next()
	require.True(ok)
	require.Equal(models.ChangeInsert, ev.Type)
	require.Equal(device.ID.String(), ev.New.ID())
	require.Equal("sensor", ev.New["name"])

	ev, ok = sub.Next()
	require.True(ok)
	require.Equal(models.ChangeUpdate, ev.Type)
	require.Equal(900.0, ev.New["raw_value"])

	ev, ok = sub.Next()
	require.True(ok)
	require.Equal(models.ChangeDelete, ev.Type)
	require.Equal(device.ID.String(), ev.Old.ID())
	require.Equal(suite.testCompanyID.String(), ev.Old["company_id"])
}

func (suite *HandlerTestSuite) TestGetDashboard() {
	require := suite.Require()

	suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "office-co2", Type: "co2", RawValue: floatPtr(1500)})
	suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "front-door", Type: "door", Status: boolPtr(true)})
	suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "back-door", Type: "door", Status: boolPtr(false)})
	suite.createDevice(models.AddDevice{CompanyID: suite.testCompanyID, Name: "gizmo", Type: "flux_capacitor", RawValue: floatPtr(88)})

	_, res, err := suite.ServeRequest(http.MethodGet, "/", "/?company_id="+suite.testCompanyID.String(), suite.api.GetDashboard, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var groups []DashboardGroup
	require.NoError(json.Unmarshal(res.Body.Bytes(), &groups))
	require.Len(groups, 3)

	// groups come back in type order, devices in name order within a group
	require.Equal("co2", groups[0].Type)
	require.Equal("door", groups[1].Type)
	require.Equal("flux_capacitor", groups[2].Type)

	require.Equal("Moderate", groups[0].Devices[0].Presentation.Status)
	require.Equal("1500 ppm", groups[0].Devices[0].Presentation.Value)

	require.Equal("back-door", groups[1].Devices[0].Device.Name)
	require.Equal("Closed", groups[1].Devices[0].Presentation.Status)
	require.Equal("front-door", groups[1].Devices[1].Device.Name)
	require.Equal("Open", groups[1].Devices[1].Presentation.Status)

	// unknown types render through the fallback instead of failing
	require.Equal("unknown", groups[2].Devices[0].Presentation.Widget)
}

func (suite *HandlerTestSuite) TestDashboardDisabledByFlag() {
	require := suite.Require()

	suite.T().Setenv("GRIDPORT_FFLAG_WIDGETS", "false")
	_, res, err := suite.ServeRequest(http.MethodGet, "/", "/", suite.api.GetDashboard, nil)
	require.NoError(err)
	require.Equal(http.StatusMethodNotAllowed, res.Code)
}

func (suite *HandlerTestSuite) TestGetDeviceBadID() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(http.MethodGet, "/:id", "/not-a-uuid", suite.api.GetDevice, nil)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)

	var body models.ValidationError
	require.NoError(json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal("id", body.Field)
}
