package models

import (
	"github.com/google/uuid"
)

// Device is a single IoT sensor or actuator reporting one value. The type
// string selects the widget used to present it; unknown types still render
// through the fallback widget.
type Device struct {
	Base
	CompanyID uuid.UUID `json:"company_id" gorm:"index"`
	Name      string    `json:"name" gorm:"index"`
	Type      string    `json:"type"`
	RawValue  *float64  `json:"raw_value"`
	Status    *bool     `json:"status"`
}

func (Device) TableName() string {
	return "iot_devices"
}

// AddDevice is the information needed to register a new Device.
type AddDevice struct {
	CompanyID uuid.UUID `json:"company_id" example:"694aa002-5d19-495e-980b-3d8fd508ea10"`
	Name      string    `json:"name" example:"warehouse-co2"`
	Type      string    `json:"type" example:"co2"`
	RawValue  *float64  `json:"raw_value"`
	Status    *bool     `json:"status"`
}

// UpdateDevice is the information needed to update a Device. Nil fields are
// left unchanged.
type UpdateDevice struct {
	Name     *string  `json:"name"`
	Type     *string  `json:"type"`
	RawValue *float64 `json:"raw_value"`
	Status   *bool    `json:"status"`
}
