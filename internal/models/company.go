package models

import (
	"github.com/google/uuid"
)

// Company is the tenant boundary. Devices belong to exactly one company and
// the dashboard only ever shows one company at a time.
type Company struct {
	Base
	Name    string    `json:"name" gorm:"index"`
	OwnerID uuid.UUID `json:"owner_id"`
}

// AddCompany is the information needed to create a new Company.
type AddCompany struct {
	Name string `json:"name" example:"Acme Sensors"`
}

// Profile stores per-user console preferences. The user identity itself is
// owned by the external auth provider; we only keep the subject id.
type Profile struct {
	UserID           string     `json:"user_id" gorm:"primary_key"`
	IsAdmin          bool       `json:"is_admin"`
	CurrentCompanyID *uuid.UUID `json:"current_company_id"`
}
