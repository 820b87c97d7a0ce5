package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/dmitrijs2005/clinicguard/internal/logging"
)

// ErrPredictionUnavailable is returned when the risk service cannot answer.
var ErrPredictionUnavailable = errors.New("risk prediction unavailable")

// RiskFeatures is the model input. Field names follow the training data.
type RiskFeatures struct {
	Gender          string  `json:"gender"`
	Age             float64 `json:"age"`
	Hypertension    int     `json:"hypertension"`
	HeartDisease    int     `json:"heart_disease"`
	EverMarried     string  `json:"ever_married"`
	WorkType        string  `json:"work_type"`
	ResidenceType   string  `json:"Residence_type"`
	AvgGlucoseLevel float64 `json:"avg_glucose_level"`
	BMI             float64 `json:"bmi"`
	SmokingStatus   string  `json:"smoking_status"`
}

// Predictor returns a stroke probability in [0, 1].
type Predictor interface {
	Predict(ctx context.Context, f RiskFeatures) (float64, error)
}

type predictResponse struct {
	Probability *float64 `json:"probability"`
}

// HTTPPredictor posts features as JSON to an external model server.
type HTTPPredictor struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPPredictor retries transport errors and 5xx answers up to twice.
func NewHTTPPredictor(url string, log logging.Logger) *HTTPPredictor {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = leveledLogger{log: log.With("module", "predictor")}

	return &HTTPPredictor{url: url, client: c}
}

func (p *HTTPPredictor) Predict(ctx context.Context, f RiskFeatures) (float64, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return 0, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPredictionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("%w: status %d", ErrPredictionUnavailable, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPredictionUnavailable, err)
	}
	if out.Probability == nil || *out.Probability < 0 || *out.Probability > 1 || math.IsNaN(*out.Probability) {
		return 0, fmt.Errorf("%w: probability out of range", ErrPredictionUnavailable)
	}
	return *out.Probability, nil
}

// leveledLogger adapts logging.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error(context.Background(), msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn(context.Background(), msg, kv...) }

// RiskPercent converts a probability to the displayed percentage: capped at
// 90, with more decimals kept for very small values.
func RiskPercent(probability float64) float64 {
	pct := probability * 100
	switch {
	case pct > 90:
		return 90
	case pct < 0.01:
		return roundTo(pct, 4)
	case pct < 0.1:
		return roundTo(pct, 3)
	case pct < 1:
		return roundTo(pct, 2)
	default:
		return roundTo(pct, 1)
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// RiskLevel buckets a percentage.
func RiskLevel(pct float64) string {
	switch {
	case pct < 20:
		return "Low"
	case pct < 40:
		return "Moderate"
	case pct < 60:
		return "High"
	case pct < 80:
		return "Very High"
	default:
		return "Critical"
	}
}
