package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// MetadataKeyEnrichedAt marks a resource as having been enriched at least once.
const MetadataKeyEnrichedAt = "enrichedAt"

// Metadata is a free-form JSON object attached to a resource.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded object.
//   - error: non-nil if marshaling fails.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Metadata")
		}
		bytes = []byte(str)
	}
	if len(bytes) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Merge returns a copy of m with every key of other written over it.
// Keys present only in m are preserved.
func (m Metadata) Merge(other Metadata) Metadata {
	merged := make(Metadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// IsEnriched reports whether the metadata carries an enrichment timestamp.
func (m Metadata) IsEnriched() bool {
	v, ok := m[MetadataKeyEnrichedAt]
	return ok && v != nil && v != ""
}

// ResourceStatus represents the moderation state of a catalog entry.
type ResourceStatus string

const (
	ResourceStatusPending  ResourceStatus = "pending"
	ResourceStatusApproved ResourceStatus = "approved"
	ResourceStatusRejected ResourceStatus = "rejected"
)

// Resource is a catalog entry. Only the fields the background jobs touch are modelled.
type Resource struct {
	ID        string         `gorm:"type:text;primaryKey" json:"id"`
	Title     string         `gorm:"type:text" json:"title"`
	URL       string         `gorm:"type:text;not null" json:"url"`
	Status    ResourceStatus `gorm:"type:text;index:idx_resources_status;default:pending" json:"status"`
	Metadata  Metadata       `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Resource.
func (Resource) TableName() string {
	return "resources"
}

// ContentAnalysis is what the AI analyzer returns for a URL.
// Its keys follow the model response schema in prompts, not the API casing.
type ContentAnalysis struct {
	SuggestedTitle       string   `json:"suggestedTitle"`
	SuggestedDescription string   `json:"suggestedDescription"`
	SuggestedTags        []string `json:"suggestedTags"`
	SuggestedCategory    string   `json:"suggestedCategory"`
	Difficulty           string   `json:"difficulty"`
	Confidence           float64  `json:"confidence"`
	KeyTopics            []string `json:"keyTopics"`
	OGImage              string   `json:"ogImage,omitempty"`
	Cached               bool     `json:"cached"`
}

// AsMetadata flattens the analysis into metadata keys.
// The cached flag is transport detail and is not stored.
func (a *ContentAnalysis) AsMetadata() Metadata {
	md := Metadata{
		"suggestedTitle":       a.SuggestedTitle,
		"suggestedDescription": a.SuggestedDescription,
		"suggestedTags":        a.SuggestedTags,
		"suggestedCategory":    a.SuggestedCategory,
		"difficulty":           a.Difficulty,
		"confidence":           a.Confidence,
		"keyTopics":            a.KeyTopics,
	}
	if a.OGImage != "" {
		md["ogImage"] = a.OGImage
	}
	return md
}
