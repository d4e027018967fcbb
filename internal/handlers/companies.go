package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/models"
	"gorm.io/gorm"
)

// ListCompanies returns all companies, newest last.
func (api *API) ListCompanies(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ListCompanies")
	defer span.End()

	var companies []models.Company
	res := api.db.WithContext(ctx).
		Scopes(FilterAndPaginate(&models.Company{}, c, "name")).
		Find(&companies)
	if res.Error != nil {
		api.sendInternalServerError(c, res.Error)
		return
	}
	c.JSON(http.StatusOK, companies)
}

// GetCompany returns one company by id.
func (api *API) GetCompany(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetCompany")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return
	}
	var company models.Company
	if res := api.db.WithContext(ctx).First(&company, "id = ?", id); res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, models.NewNotFoundError("company"))
			return
		}
		api.sendInternalServerError(c, res.Error)
		return
	}
	c.JSON(http.StatusOK, company)
}

// CreateCompany adds a new company.
func (api *API) CreateCompany(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateCompany")
	defer span.End()

	var request models.AddCompany
	if err := c.BindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}
	if request.Name == "" {
		c.JSON(http.StatusBadRequest, models.NewFieldNotPresentError("name"))
		return
	}

	company := models.Company{Name: request.Name}
	err := api.transaction(ctx, func(tx *gorm.DB) error {
		if res := tx.Create(&company); res.Error != nil {
			if database.IsDuplicateError(res.Error) {
				return NewApiResponseError(http.StatusConflict, models.NewConflictsError(company.ID.String()))
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
	c.Header("Location", api.resourceURL("/api/companies/"+company.ID.String()))
	c.JSON(http.StatusCreated, company)
}

// DeleteCompany removes a company and its devices.
func (api *API) DeleteCompany(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "DeleteCompany")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("id"))
		return
	}
	var company models.Company
	err = api.transaction(ctx, func(tx *gorm.DB) error {
		if res := tx.First(&company, "id = ?", id); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError("company"))
			}
			return res.Error
		}
		if res := tx.Delete(&models.Device{}, "company_id = ?", id); res.Error != nil {
			return res.Error
		}
		return tx.Delete(&models.Company{}, "id = ?", id).Error
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
	c.JSON(http.StatusOK, company)
}

// GetProfile returns the console preferences of one user, creating an empty
// profile on first sight so the client always has something to patch.
func (api *API) GetProfile(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetProfile")
	defer span.End()

	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("user_id"))
		return
	}
	var profile models.Profile
	err := api.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.First(&profile, "user_id = ?", userID)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			profile = models.Profile{UserID: userID}
			return tx.Create(&profile).Error
		}
		return res.Error
	})
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile stores the user's current company selection.
func (api *API) UpdateProfile(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "UpdateProfile")
	defer span.End()

	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, models.NewBadPathParameterError("user_id"))
		return
	}
	var request struct {
		CurrentCompanyID *uuid.UUID `json:"current_company_id"`
	}
	if err := c.BindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.NewBadPayloadError())
		return
	}

	var profile models.Profile
	err := api.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.First(&profile, "user_id = ?", userID)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			profile = models.Profile{UserID: userID}
		} else if res.Error != nil {
			return res.Error
		}
		if request.CurrentCompanyID != nil {
			var company models.Company
			if res := tx.First(&company, "id = ?", *request.CurrentCompanyID); res.Error != nil {
				return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError("company"))
			}
		}
		profile.CurrentCompanyID = request.CurrentCompanyID
		return tx.Save(&profile).Error
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
	c.JSON(http.StatusOK, profile)
}
