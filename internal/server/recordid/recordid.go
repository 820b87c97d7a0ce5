// Package recordid generates and validates 9-digit patient record
// identifiers of the form <YearDigit><MM><DD><NNNN>.
//
// Uniqueness is checked against storage before an identifier is handed out,
// but the check races with concurrent inserts; the patients primary key is
// the real guarantee.
package recordid

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/retryx"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

// Length is the identifier length in digits.
const Length = 9

// MaxAttempts is the default number of generation attempts.
const MaxAttempts = 5

// ErrGenerationExhausted is returned when no usable identifier was found
// within the attempt budget. Callers must not invent an identifier.
var ErrGenerationExhausted = errors.New("failed to generate a unique patient id")

var (
	errCollision = errors.New("patient id already in use")
	errMalformed = errors.New("malformed patient id")
)

// ExistenceChecker looks up whether a record with id already exists.
type ExistenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type Generator struct {
	exists      ExistenceChecker
	sink        audit.Sink
	now         func() time.Time
	suffix      func() int
	maxAttempts int
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSuffix replaces the random 0..9999 suffix source.
func WithSuffix(fn func() int) Option {
	return func(g *Generator) { g.suffix = fn }
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) { g.maxAttempts = n }
}

func NewGenerator(exists ExistenceChecker, sink audit.Sink, opts ...Option) *Generator {
	g := &Generator{
		exists:      exists,
		sink:        sink,
		now:         time.Now,
		suffix:      func() int { return rand.IntN(10000) },
		maxAttempts: MaxAttempts,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Prefix is the 5-digit date part for t: last year digit, month, day.
func Prefix(t time.Time) string {
	return fmt.Sprintf("%d%02d%02d", t.Year()%10, int(t.Month()), t.Day())
}

// Generate returns an identifier that was structurally valid and unused at
// the time of the check. A storage error aborts generation immediately.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	var accepted string

	err := retryx.Do(ctx, retryx.Policy{MaxAttempts: g.maxAttempts}, func(ctx context.Context, attempt int) error {
		id := Prefix(g.now()) + fmt.Sprintf("%04d", g.suffix()%10000)

		if attempt == 1 {
			g.sink.Log(ctx, fmt.Sprintf("Generating new patient ID attempt 1: %s", id), models.LevelInfo)
		} else {
			g.sink.Log(ctx, fmt.Sprintf("Retry attempt %d generating patient ID: %s", attempt, id), models.LevelWarning)
		}

		if err := Validate(id); err != nil {
			g.sink.Log(ctx, fmt.Sprintf("Generated invalid patient ID (will retry): %s", id), models.LevelWarning)
			return retryx.Retryable(errMalformed)
		}

		taken, err := g.exists.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("check patient id: %w", err)
		}
		if taken {
			g.sink.Log(ctx, fmt.Sprintf("Patient ID collision detected: %s is already in use.", id), models.LevelWarning)
			return retryx.Retryable(errCollision)
		}

		accepted = id
		return nil
	})

	switch {
	case err == nil:
		g.sink.Log(ctx, fmt.Sprintf("Successfully generated valid patient ID: %s", accepted), models.LevelInfo)
		return accepted, nil
	case errors.Is(err, retryx.ErrExhausted):
		g.sink.Log(ctx, fmt.Sprintf("Failed to generate a valid patient ID after %d attempts.", g.maxAttempts), models.LevelError)
		return "", ErrGenerationExhausted
	default:
		return "", err
	}
}

// Validate checks structure only: exactly 9 ASCII digits, month 1-12 and
// day 1-31. Day 31 in a 30-day month (or Feb 30) passes.
func Validate(id string) error {
	if len(id) != Length {
		return common.NewValidationError("patient_id", "Invalid patient ID.")
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return common.NewValidationError("patient_id", "Invalid patient ID.")
		}
	}

	month, _ := strconv.Atoi(id[1:3])
	if month < 1 || month > 12 {
		return common.NewValidationError("patient_id", fmt.Sprintf("Invalid month in patient ID: %02d", month))
	}
	day, _ := strconv.Atoi(id[3:5])
	if day < 1 || day > 31 {
		return common.NewValidationError("patient_id", fmt.Sprintf("Invalid day in patient ID: %02d", day))
	}
	return nil
}
