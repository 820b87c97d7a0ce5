package models

import "time"

// Patient is the decrypted, in-memory view of a patient record.
type Patient struct {
	PatientID       string     `json:"patient_id"`
	Name            string     `json:"name"`
	Age             int64      `json:"age"`
	Gender          string     `json:"gender"`
	EverMarried     string     `json:"ever_married"`
	WorkType        string     `json:"work_type"`
	ResidenceType   string     `json:"residence_type"`
	HeartDisease    string     `json:"heart_disease"`
	Hypertension    string     `json:"hypertension"`
	AvgGlucoseLevel float64    `json:"avg_glucose_level"`
	BMI             float64    `json:"bmi"`
	SmokingStatus   string     `json:"smoking_status"`
	StrokeRisk      float64    `json:"stroke_risk"`
	RiskLevel       string     `json:"risk_level,omitempty"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedBy       string     `json:"updated_by,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// PatientRow is the persisted form. Age, AvgGlucoseLevel, BMI and StrokeRisk
// hold field ciphertexts (or legacy plain numbers written as text).
type PatientRow struct {
	PatientID       string
	Name            string
	Age             *string
	Gender          string
	EverMarried     string
	WorkType        string
	ResidenceType   string
	HeartDisease    string
	Hypertension    string
	AvgGlucoseLevel *string
	BMI             *string
	SmokingStatus   string
	StrokeRisk      *string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedBy       *string
	UpdatedAt       *time.Time
}

// PatientMatch is one search hit.
type PatientMatch struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
}

// PatientSearchPage is a page of search hits.
type PatientSearchPage struct {
	Items   []PatientMatch `json:"items"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}
