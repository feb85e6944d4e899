package cost

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/distill-cli/internal/model"
)

// Profile roles. An empty role makes a profile eligible for both.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// defaultReliability seeds the reliability of a profile built from a model.
const defaultReliability = 0.9

// Profile is the cost and quality record of one model.
type Profile struct {
	Provider          string    `yaml:"provider" json:"provider"`
	Model             string    `yaml:"model" json:"model"`
	Role              string    `yaml:"role" json:"role,omitempty"`
	InputCostPer1K    float64   `yaml:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K   float64   `yaml:"output_cost_per_1k" json:"output_cost_per_1k"`
	QualityRating     float64   `yaml:"quality_rating" json:"quality_rating"`
	SpeedRating       float64   `yaml:"speed_rating" json:"speed_rating"`
	ReliabilityRating float64   `yaml:"reliability_rating" json:"reliability_rating"`
	LastUpdated       time.Time `yaml:"-" json:"last_updated"`
}

// ProfileFromModel derives a profile from provider metadata. Quality is the
// model's suitability for role; speed is its per-minute rate limit.
func ProfileFromModel(info model.ModelInfo, role string, perMinute int) Profile {
	quality := info.RoleSuitability.Best()
	switch role {
	case RoleTeacher:
		quality = info.RoleSuitability.Teacher
	case RoleStudent:
		quality = info.RoleSuitability.Student
	}
	return Profile{
		Provider:          info.Provider,
		Model:             info.Model,
		Role:              role,
		InputCostPer1K:    info.Pricing.Input,
		OutputCostPer1K:   info.Pricing.Output,
		QualityRating:     quality,
		SpeedRating:       float64(perMinute),
		ReliabilityRating: defaultReliability,
		LastUpdated:       time.Now(),
	}
}

// profileFile is the on-disk override format.
type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads profile overrides keyed by profile key from a YAML
// file.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, eris.Wrapf(err, "cost: read profiles %s", path)
	}

	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "cost: parse profiles %s", path)
	}
	for key, p := range f.Profiles {
		if p.QualityRating < 0 || p.QualityRating > 1 {
			return nil, eris.Errorf("cost: profile %s: quality_rating %.2f outside [0,1]", key, p.QualityRating)
		}
		if p.InputCostPer1K < 0 || p.OutputCostPer1K < 0 {
			return nil, eris.Errorf("cost: profile %s: negative rate", key)
		}
	}
	return f.Profiles, nil
}
