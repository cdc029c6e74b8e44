// Package severity classifies incidents as Low, Medium or High severity.
//
// A Model is trained on the full, unfiltered incident table: numeric
// features are min-max scaled over the training data and combined with an
// attack-type weight into a risk score, and the 33rd and 66th percentile
// scores become the class thresholds. The model never sees filtered
// tables or predicate sets.
package severity

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"cyberdash/internal/engine"
)

// Label is a severity class.
type Label string

const (
	Low    Label = "Low"
	Medium Label = "Medium"
	High   Label = "High"
)

// ErrNoData is returned when training on an empty table.
var ErrNoData = errors.New("severity: no training data")

// attackWeights scores how damaging an attack type usually is.
var attackWeights = map[string]float64{
	"ransomware":         1.0,
	"zero-day":           1.0,
	"data breach":        0.8,
	"sql injection":      0.7,
	"man-in-the-middle":  0.7,
	"malware":            0.6,
	"ddos":               0.6,
	"brute force":        0.5,
	"phishing":           0.4,
	"social engineering": 0.4,
}

const defaultAttackWeight = 0.3

// Score weights.
const (
	lossWeight       = 0.4
	usersWeight      = 0.3
	resolutionWeight = 0.2
	attackWeight     = 0.1
)

type scale struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (s scale) norm(v float64) float64 {
	if s.Max <= s.Min {
		return 0
	}
	return math.Min(1, math.Max(0, (v-s.Min)/(s.Max-s.Min)))
}

// Model holds the fitted scales and thresholds.
type Model struct {
	Loss       scale   `json:"loss"`
	Users      scale   `json:"users"`
	Resolution scale   `json:"resolution"`
	LowMax     float64 `json:"low_max"`
	MediumMax  float64 `json:"medium_max"`
	Trained    int     `json:"trained_rows"`
}

// Train fits a model on every row of t.
func Train(t engine.Table) (*Model, error) {
	n := t.Len()
	if n == 0 {
		return nil, ErrNoData
	}
	m := &Model{Trained: n}
	fit := func(meas engine.Measure) scale {
		s := scale{Min: math.Inf(1), Max: math.Inf(-1)}
		for i := 0; i < n; i++ {
			v := t.Measure(meas, i)
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}
		return s
	}
	m.Loss = fit(engine.LossMeasure)
	m.Users = fit(engine.UsersMeasure)
	m.Resolution = fit(engine.ResolutionMeasure)

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = m.Score(t.Record(i))
	}
	slices.Sort(scores)
	m.LowMax = quantile(scores, 0.33)
	m.MediumMax = quantile(scores, 0.66)
	return m, nil
}

// Score is the weighted risk score of an incident, in [0, 1.2].
func (m *Model) Score(r engine.Record) float64 {
	return lossWeight*m.Loss.norm(r.FinancialLoss) +
		usersWeight*m.Users.norm(float64(r.AffectedUsers)) +
		resolutionWeight*m.Resolution.norm(r.ResolutionTime) +
		attackWeight*AttackFactor(r.AttackType, r.VulnerabilityType)
}

// Predict classifies one incident.
func (m *Model) Predict(r engine.Record) Label {
	return m.classify(m.Score(r))
}

func (m *Model) classify(score float64) Label {
	switch {
	case score <= m.LowMax:
		return Low
	case score <= m.MediumMax:
		return Medium
	default:
		return High
	}
}

// AttackFactor weights an attack type, boosted for zero-day and
// misconfiguration vulnerabilities.
func AttackFactor(attackType, vulnerability string) float64 {
	w, ok := attackWeights[strings.ToLower(strings.TrimSpace(attackType))]
	if !ok {
		w = defaultAttackWeight
	}
	v := strings.ToLower(vulnerability)
	if strings.Contains(v, "zero") || strings.Contains(v, "misconfig") {
		w += 0.2
	}
	return w
}

// Save writes the model as JSON.
func (m *Model) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// LoadModel reads a model written by Save.
func LoadModel(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("severity: decode model: %w", err)
	}
	if m.Trained == 0 {
		return nil, ErrNoData
	}
	return &m, nil
}

// quantile interpolates linearly between closest ranks of sorted xs.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
