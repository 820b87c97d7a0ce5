package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hengadev/errsx"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/fieldcrypt"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/recordid"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/repomanager"
)

// ErrPatientIDCollision wraps common.ErrAlreadyExists when an insert loses
// the race for a generated id.
var ErrPatientIDCollision = errors.New("patient id collision")

const DefaultPatientPageSize = 50

const (
	DefaultSearchPageSize = 30
	MaxSearchPageSize     = 100
)

var (
	patientNamePattern = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ][A-Za-zÀ-ÖØ-öø-ÿ'\-.\s]{0,98}[A-Za-zÀ-ÖØ-öø-ÿ.]?$`)

	allowedGenders   = []string{"Male", "Female", "Other"}
	allowedMarried   = []string{"Yes", "No"}
	allowedResidence = []string{"Urban", "Rural"}
	allowedWorkTypes = []string{"Private", "Self-employed", "Govt_job", "children", "Never_worked"}
	allowedSmoking   = []string{"formerly smoked", "never smoked", "smokes", "Unknown"}
	allowedBinary    = []string{"0", "1", "No", "Yes"}

	searchNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z ]*$`)
	searchIDPattern   = regexp.MustCompile(`^[0-9]{9}$`)
)

// yesNo stores binary flags the way historical records hold them.
func yesNo(v string) string {
	if v == "1" || v == "Yes" {
		return "Yes"
	}
	return "No"
}

func flag(v string) int {
	if v == "Yes" {
		return 1
	}
	return 0
}

// PatientInput is a create or update request.
type PatientInput struct {
	Name            string      `json:"name"`
	Age             json.Number `json:"age"`
	Gender          string      `json:"gender"`
	EverMarried     string      `json:"ever_married"`
	WorkType        string      `json:"work_type"`
	ResidenceType   string      `json:"residence_type"`
	HeartDisease    string      `json:"heart_disease"`
	Hypertension    string      `json:"hypertension"`
	AvgGlucoseLevel json.Number `json:"avg_glucose_level"`
	BMI             json.Number `json:"bmi"`
	SmokingStatus   string      `json:"smoking_status"`
}

// validPatient is PatientInput after validation.
type validPatient struct {
	PatientInput
	age     int64
	glucose float64
	bmi     float64
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// validatePatient checks every field and reports all failures together.
func validatePatient(in PatientInput) (*validPatient, error) {
	var errs errsx.Map
	out := &validPatient{PatientInput: in}
	out.Name = strings.TrimSpace(in.Name)

	switch n := utf8.RuneCountInString(out.Name); {
	case n == 0:
		errs.Set("name", "Name is required.")
	case n < 2:
		errs.Set("name", "Name is too short.")
	case n > 100:
		errs.Set("name", "Name is too long.")
	case !patientNamePattern.MatchString(out.Name):
		errs.Set("name", "Please enter a valid name.")
	}

	if age, err := in.Age.Int64(); err != nil {
		errs.Set("age", "Please enter a valid age.")
	} else if age < 10 || age > 120 {
		errs.Set("age", "Please enter a valid age (10-120).")
	} else {
		out.age = age
	}

	selects := []struct {
		field, value, label string
		allowed             []string
	}{
		{"gender", in.Gender, "gender", allowedGenders},
		{"ever_married", in.EverMarried, "marital status", allowedMarried},
		{"residence_type", in.ResidenceType, "residence type", allowedResidence},
		{"work_type", in.WorkType, "work type", allowedWorkTypes},
		{"heart_disease", in.HeartDisease, "heart disease option", allowedBinary},
		{"hypertension", in.Hypertension, "hypertension option", allowedBinary},
		{"smoking_status", in.SmokingStatus, "smoking status", allowedSmoking},
	}
	for _, s := range selects {
		if !oneOf(s.value, s.allowed) {
			errs.Set(s.field, fmt.Sprintf("Please select a valid %s.", s.label))
		}
	}

	out.glucose = checkRange(&errs, "avg_glucose_level", "Glucose level", in.AvgGlucoseLevel, 600)
	out.bmi = checkRange(&errs, "bmi", "BMI", in.BMI, 100)

	if err := common.AsValidationError(errs); err != nil {
		return nil, err
	}
	out.HeartDisease = yesNo(in.HeartDisease)
	out.Hypertension = yesNo(in.Hypertension)
	return out, nil
}

func checkRange(errs *errsx.Map, field, label string, v json.Number, max float64) float64 {
	f, err := v.Float64()
	switch {
	case err != nil:
		errs.Set(field, fmt.Sprintf("Please enter a valid %s.", strings.ToLower(label)))
	case f < 0:
		errs.Set(field, label+" value is too low.")
	case f > max:
		errs.Set(field, label+" value is too high.")
	}
	return f
}

// PatientService stores patient records with the sensitive numeric fields
// encrypted. Reads decrypt leniently so legacy plaintext rows stay readable.
type PatientService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	guard       *guard.Guard
	codec       *fieldcrypt.Codec
	ids         *recordid.Generator
	predictor   Predictor
	activity    audit.Sink
	log         logging.Logger
	now         func() time.Time
}

type PatientOption func(*PatientService)

// WithPredictor enables risk prediction; without it stroke_risk stays empty.
func WithPredictor(p Predictor) PatientOption {
	return func(s *PatientService) { s.predictor = p }
}

func WithPatientClock(now func() time.Time) PatientOption {
	return func(s *PatientService) { s.now = now }
}

func WithPatientLogger(l logging.Logger) PatientOption {
	return func(s *PatientService) { s.log = l }
}

func NewPatientService(db *sql.DB, m repomanager.RepositoryManager, g *guard.Guard, codec *fieldcrypt.Codec, ids *recordid.Generator, activity audit.Sink, opts ...PatientOption) *PatientService {
	s := &PatientService{
		db:          db,
		repomanager: m,
		guard:       g,
		codec:       codec,
		ids:         ids,
		activity:    activity,
		log:         logging.Nop(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "patients")
	return s
}

func (s *PatientService) risk(ctx context.Context, v *validPatient) *float64 {
	if s.predictor == nil {
		return nil
	}
	p, err := s.predictor.Predict(ctx, RiskFeatures{
		Gender:          v.Gender,
		Age:             float64(v.age),
		Hypertension:    flag(v.Hypertension),
		HeartDisease:    flag(v.HeartDisease),
		EverMarried:     v.EverMarried,
		WorkType:        v.WorkType,
		ResidenceType:   v.ResidenceType,
		AvgGlucoseLevel: v.glucose,
		BMI:             v.bmi,
		SmokingStatus:   v.SmokingStatus,
	})
	if err != nil {
		s.log.Warn(ctx, "stroke risk not computed", "error", err)
		s.activity.Log(ctx, "Stroke risk prediction unavailable; record saved without risk", models.LevelWarning)
		return nil
	}
	pct := RiskPercent(p)
	return &pct
}

func (s *PatientService) row(id string, v *validPatient, risk *float64) (*models.PatientRow, error) {
	row := &models.PatientRow{
		PatientID:     id,
		Name:          v.Name,
		Gender:        v.Gender,
		EverMarried:   v.EverMarried,
		WorkType:      v.WorkType,
		ResidenceType: v.ResidenceType,
		HeartDisease:  v.HeartDisease,
		Hypertension:  v.Hypertension,
		SmokingStatus: v.SmokingStatus,
	}

	var err error
	if row.Age, err = s.codec.Encrypt(v.age); err != nil {
		return nil, err
	}
	if row.AvgGlucoseLevel, err = s.codec.Encrypt(v.glucose); err != nil {
		return nil, err
	}
	if row.BMI, err = s.codec.Encrypt(v.bmi); err != nil {
		return nil, err
	}
	if row.StrokeRisk, err = s.codec.Encrypt(risk); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *PatientService) view(r *models.PatientRow) *models.Patient {
	p := &models.Patient{
		PatientID:       r.PatientID,
		Name:            r.Name,
		Age:             s.codec.DecryptInt(r.Age),
		Gender:          r.Gender,
		EverMarried:     r.EverMarried,
		WorkType:        r.WorkType,
		ResidenceType:   r.ResidenceType,
		HeartDisease:    r.HeartDisease,
		Hypertension:    r.Hypertension,
		AvgGlucoseLevel: s.codec.DecryptFloat(r.AvgGlucoseLevel),
		BMI:             s.codec.DecryptFloat(r.BMI),
		SmokingStatus:   r.SmokingStatus,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.UpdatedBy != nil {
		p.UpdatedBy = *r.UpdatedBy
	}
	if r.StrokeRisk != nil {
		p.StrokeRisk = s.codec.DecryptFloat(r.StrokeRisk)
		p.RiskLevel = RiskLevel(p.StrokeRisk)
	}
	return p
}

// Create validates in, assigns a new patient id and stores the record.
func (s *PatientService) Create(ctx context.Context, actor *models.Principal, in PatientInput) (*models.Patient, error) {
	v, err := validatePatient(in)
	if err != nil {
		return nil, err
	}

	id, err := s.ids.Generate(ctx)
	if err != nil {
		return nil, err
	}

	row, err := s.row(id, v, s.risk(ctx, v))
	if err != nil {
		return nil, fmt.Errorf("encrypt patient: %w", err)
	}
	row.CreatedBy = actorDisplayName(actor)
	row.CreatedAt = s.now().UTC()

	if err := s.guard.Transactional(ctx, "patient create", func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repomanager.Patients(tx).Insert(ctx, row)
		if errors.Is(err, common.ErrAlreadyExists) {
			return fmt.Errorf("%w %s: %w", ErrPatientIDCollision, id, err)
		}
		return err
	}); err != nil {
		return nil, err
	}

	s.activity.Log(ctx, fmt.Sprintf("Created patient record %s for %s", id, audit.MaskName(v.Name)), models.LevelInfo)
	return s.view(row), nil
}

// Get returns one decrypted record.
func (s *PatientService) Get(ctx context.Context, id string) (*models.Patient, error) {
	if err := recordid.Validate(id); err != nil {
		return nil, err
	}
	row, err := s.repomanager.Patients(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.activity.Log(ctx, fmt.Sprintf("Viewed patient record %s", id), models.LevelDebug)
	return s.view(row), nil
}

// List returns a page of decrypted records ordered by id.
func (s *PatientService) List(ctx context.Context, limit, offset int) ([]*models.Patient, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultPatientPageSize
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.repomanager.Patients(s.db).List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	out := make([]*models.Patient, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.view(r))
	}
	return out, nil
}

// Search finds patients by a case-insensitive name prefix or by an exact
// nine-digit id. Queries mixing letters and digits are rejected; other
// unusable queries yield an empty page.
func (s *PatientService) Search(ctx context.Context, q string, limit, offset int) (*models.PatientSearchPage, error) {
	q = strings.TrimSpace(q)
	if limit <= 0 {
		limit = DefaultSearchPageSize
	}
	if limit > MaxSearchPageSize {
		limit = MaxSearchPageSize
	}
	if offset < 0 {
		offset = 0
	}
	page := &models.PatientSearchPage{Items: []models.PatientMatch{}, Limit: limit, Offset: offset}

	hasLetter := strings.IndexFunc(q, unicode.IsLetter) >= 0
	hasDigit := strings.IndexFunc(q, unicode.IsDigit) >= 0
	switch {
	case hasLetter && hasDigit:
		return nil, common.NewValidationError("q", "Search by name or by patient ID, not both.")

	case searchIDPattern.MatchString(q):
		if offset > 0 {
			return page, nil
		}
		row, err := s.repomanager.Patients(s.db).Get(ctx, q)
		if errors.Is(err, common.ErrorNotFound) {
			return page, nil
		}
		if err != nil {
			return nil, fmt.Errorf("search patients: %w", err)
		}
		page.Items = append(page.Items, models.PatientMatch{PatientID: row.PatientID, Name: row.Name})

	case searchNamePattern.MatchString(q):
		matches, err := s.repomanager.Patients(s.db).SearchByName(ctx, q, limit+1, offset)
		if err != nil {
			return nil, fmt.Errorf("search patients: %w", err)
		}
		if len(matches) > limit {
			page.HasMore = true
			matches = matches[:limit]
		}
		page.Items = matches

	default:
		return page, nil
	}

	s.activity.Log(ctx, fmt.Sprintf("Searched patient records (%d results)", len(page.Items)), models.LevelDebug)
	return page, nil
}

// Update replaces the editable fields of an existing record and recomputes
// its risk.
func (s *PatientService) Update(ctx context.Context, actor *models.Principal, id string, in PatientInput) (*models.Patient, error) {
	if err := recordid.Validate(id); err != nil {
		return nil, err
	}
	v, err := validatePatient(in)
	if err != nil {
		return nil, err
	}

	row, err := s.row(id, v, s.risk(ctx, v))
	if err != nil {
		return nil, fmt.Errorf("encrypt patient: %w", err)
	}
	by := actorDisplayName(actor)
	now := s.now().UTC()
	row.UpdatedBy = &by
	row.UpdatedAt = &now

	var stored *models.PatientRow
	if err := s.guard.Transactional(ctx, "patient update", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Patients(tx)
		if err := repo.Update(ctx, row); err != nil {
			return err
		}
		var err error
		stored, err = repo.Get(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}

	s.activity.Log(ctx, fmt.Sprintf("Updated patient record %s for %s", id, audit.MaskName(v.Name)), models.LevelInfo)
	return s.view(stored), nil
}

// Delete removes a record.
func (s *PatientService) Delete(ctx context.Context, id string) error {
	if err := recordid.Validate(id); err != nil {
		return err
	}
	if err := s.guard.Transactional(ctx, "patient delete", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Patients(tx).Delete(ctx, id)
	}); err != nil {
		return err
	}
	s.activity.Log(ctx, fmt.Sprintf("Deleted patient record %s", id), models.LevelWarning)
	return nil
}

func actorDisplayName(actor *models.Principal) string {
	if actor == nil {
		return "System"
	}
	if actor.Name != "" {
		return actor.Name
	}
	return actor.Email
}
