package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/records"
	"github.com/gridport-io/gridport/internal/util"
	"github.com/gridport-io/gridport/internal/widgets"
	"gorm.io/gorm"
)

// publishDeviceEvent pushes a device mutation onto the iot_devices change
// feed so watching dashboards reconcile without refetching.
func (api *API) publishDeviceEvent(eventType models.ChangeEventType, device *models.Device) {
	event := models.ChangeEvent{
		Table: models.Device{}.TableName(),
		Type:  eventType,
	}
	if eventType == models.ChangeDelete {
		event.Old = models.Record{"id": device.ID.String(), "company_id": device.CompanyID.String()}
	} else {
		rec, err := util.ToRecord(device)
		if err != nil {
			api.logger.Errorf("failed to encode device event: %s", err)
			return
		}
		event.New = rec
	}
	api.signalBus.Publish(records.Topic(event.Table), event)
}

// deviceCompanyScope limits a query to the company named in the request,
// when one is.
func deviceCompanyScope(c *gin.Context) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if companyID := c.Query("company_id"); companyID != "" {
			db = db.Where("company_id = ?", companyID)
		}
		return db
	}
}

// ListDevices returns the devices of one company, ordered by name, capped
// at 100. With ?watch=true the response is a change-event stream scoped to
// the same company.
func (api *API) ListDevices(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListDevices")
	defer span.End()

	companyID := c.Query("company_id")

	if c.Query("watch") == "true" {
		if enabled, err := api.fflags.GetFlag("realtime"); err != nil || !enabled {
			c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError("realtime support is disabled"))
			return
		}
		api.sendWatch(c, ctx, records.Topic(models.Device{}.TableName()), func() ([]interface{}, error) {
			devices, err := api.fetchDevices(ctx, c)
			if err != nil {
				return nil, err
			}
			items := make([]interface{}, len(devices))
			for i := range devices {
				items[i] = devices[i]
			}
			return items, nil
		}, func(ev models.ChangeEvent) bool {
			if companyID == "" {
				return true
			}
			rec := ev.New
			if ev.Type == models.ChangeDelete {
				rec = ev.Old
			}
			v, ok := rec["company_id"]
			if !ok {
				// scoping is unknowable for this event; deliver rather
				// than silently drop a row the client may hold
				return true
			}
			return v == companyID
		})
		return
	}

	devices, err := api.fetchDevices(ctx, c)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	c.Header("Access-Control-Expose-Headers", TotalCountHeader)
	c.Header(TotalCountHeader, strconv.Itoa(len(devices)))
	c.JSON(http.StatusOK, devices)
}

func (api *API) fetchDevices(ctx context.Context, c *gin.Context) ([]models.Device, error) {
	var devices []models.Device
	res := api.db.WithContext(ctx).
		Scopes(deviceCompanyScope(c)).
		Order("name").
		Limit(fetchLimit(c)).
		Find(&devices)
	return devices, res.Error
}

// GetDevice returns one device by id.
func (api *API) GetDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetDevice")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return
	}
	var device models.Device
	if res := api.db.WithContext(ctx).First(&device, "id = ?", id); res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, models.NewNotFoundError("device"))
			return
		}
		api.sendInternalServerError(c, res.Error)
		return
	}
	c.JSON(http.StatusOK, device)
}

// CreateDevice registers a new device.
func (api *API) CreateDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateDevice")
	defer span.End()

	var request models.AddDevice
	if err := c.BindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	if request.Name == "" {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("name"))
		return
	}
	if request.Type == "" {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("type"))
		return
	}
	if request.CompanyID == uuid.Nil {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("company_id"))
		return
	}

	var device models.Device
	err := api.transaction(ctx, func(tx *gorm.DB) error {
		var company models.Company
		if res := tx.First(&company, "id = ?", request.CompanyID); res.Error != nil {
			return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError("company"))
		}
		device = models.Device{
			CompanyID: request.CompanyID,
			Name:      request.Name,
			Type:      request.Type,
			RawValue:  request.RawValue,
			Status:    request.Status,
		}
		if res := tx.Create(&device); res.Error != nil {
			if database.IsDuplicateError(res.Error) {
				return NewApiResponseError(http.StatusConflict, models.NewConflictsError(device.ID.String()))
			}
			return res.Error
		}
		return nil
	})
	if err != nil {
		var apiError *ApiResponseError
		if errors.As(err, &apiError) {
			c.JSON(apiError.Status, apiError.Body)
			return
		}
		api.sendInternalServerError(c, err)
		return
	}
	api.publishDeviceEvent(models.ChangeInsert, &device)
	c.Header("Location", api.resourceURL("/api/devices/"+device.ID.String()))
	c.JSON(http.StatusCreated, device)
}

// UpdateDevice applies the non-nil fields of the request to a device. The
// typical caller is a sensor reporting a new raw_value.
func (api *API) UpdateDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "UpdateDevice")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return
	}
	var request models.UpdateDevice
	if err := c.BindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}

	var device models.Device
	err = api.transaction(ctx, func(tx *gorm.DB) error {
		if res := tx.First(&device, "id = ?", id); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError("device"))
			}
			return res.Error
		}
		if request.Name != nil {
			device.Name = *request.Name
		}
		if request.Type != nil {
			device.Type = *request.Type
		}
		if request.RawValue != nil {
			device.RawValue = request.RawValue
		}
		if request.Status != nil {
			device.Status = request.Status
		}
		return tx.Save(&device).Error
	})
	if err != nil {
		var apiError *ApiResponseError
		if errors.As(err, &apiError) {
			c.JSON(apiError.Status, apiError.Body)
			return
		}
		api.sendInternalServerError(c, err)
		return
	}
	api.publishDeviceEvent(models.ChangeUpdate, &device)
	c.JSON(http.StatusOK, device)
}

// DeleteDevice removes a device.
func (api *API) DeleteDevice(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "DeleteDevice")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return
	}
	var device models.Device
	err = api.transaction(ctx, func(tx *gorm.DB) error {
		if res := tx.First(&device, "id = ?", id); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError("device"))
			}
			return res.Error
		}
		return tx.Delete(&models.Device{}, "id = ?", id).Error
	})
	if err != nil {
		var apiError *ApiResponseError
		if errors.As(err, &apiError) {
			c.JSON(apiError.Status, apiError.Body)
			return
		}
		api.sendInternalServerError(c, err)
		return
	}
	api.publishDeviceEvent(models.ChangeDelete, &device)
	c.Status(http.StatusNoContent)
}

// DashboardDevice is one device paired with its widget presentation.
type DashboardDevice struct {
	Device       models.Device        `json:"device"`
	Presentation widgets.Presentation `json:"presentation"`
}

// DashboardGroup is the devices of one type, in name order.
type DashboardGroup struct {
	Type    string            `json:"type"`
	Devices []DashboardDevice `json:"devices"`
}

// GetDashboard returns the company's devices grouped by type, each with the
// presentation its widget produces. Unknown device types come back with the
// fallback presentation rather than failing the whole dashboard.
func (api *API) GetDashboard(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetDashboard")
	defer span.End()

	if enabled, err := api.fflags.GetFlag("widgets"); err != nil || !enabled {
		c.JSON(http.StatusMethodNotAllowed, models.NewNotAllowedError("widgets are disabled"))
		return
	}

	devices, err := api.fetchDevices(ctx, c)
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}

	byType := map[string][]DashboardDevice{}
	for _, device := range devices {
		byType[device.Type] = append(byType[device.Type], DashboardDevice{
			Device:       device,
			Presentation: api.widgets.Render(device),
		})
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	groups := make([]DashboardGroup, 0, len(types))
	for _, t := range types {
		groups = append(groups, DashboardGroup{Type: t, Devices: byType[t]})
	}
	c.JSON(http.StatusOK, groups)
}
