package shared

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// RecordMetadata is embedded in every persisted record. Deletion is always
// soft: queries filter on the Deleted flag rather than removing documents.
type RecordMetadata struct {
	CreatedAt      int64            `json:"createdAt" bson:"createdAt"`
	UpdatedAt      int64            `json:"updatedAt" bson:"updatedAt"`
	Updated        bool             `json:"updated" bson:"updated"`
	Version        string           `json:"version" bson:"version"`
	LastModifiedBy string           `json:"lastModifiedBy" bson:"lastModifiedBy"`
	Deleted        bool             `json:"deleted" bson:"deleted"`
	ChangeLog      map[string]int64 `json:"changeLog,omitempty" bson:"changeLog,omitempty"`
	Tags           []string         `json:"tags,omitempty" bson:"tags,omitempty"`
	Active         bool             `json:"active" bson:"active"`
	Deprecated     bool             `json:"deprecated" bson:"deprecated"`
}

// NewRecordMetadata returns metadata for a freshly created record.
func NewRecordMetadata() RecordMetadata {
	now := time.Now().UnixMilli()
	return RecordMetadata{
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        "1.0.0",
		LastModifiedBy: "system",
		Active:         true,
	}
}

// TestRecordMetadata pins timestamps to the epoch for deterministic fixtures.
func TestRecordMetadata() RecordMetadata {
	m := NewRecordMetadata()
	m.CreatedAt = 0
	m.UpdatedAt = 0
	return m
}

func (m *RecordMetadata) log(entry string, at int64) {
	if m.ChangeLog == nil {
		m.ChangeLog = make(map[string]int64)
	}
	m.ChangeLog[entry] = at
}

// MarkUpdated bumps the patch version and records the modifier.
func (m *RecordMetadata) MarkUpdated(modifier string) {
	now := time.Now().UnixMilli()
	m.Updated = true
	m.UpdatedAt = now
	if v, err := semver.NewVersion(m.Version); err == nil {
		next := v.IncPatch()
		m.Version = next.String()
	}
	m.LastModifiedBy = modifier
	m.log(fmt.Sprintf("Updated by %s", modifier), now)
}

// MarkDeleted soft-deletes the record.
func (m *RecordMetadata) MarkDeleted(modifier string) {
	m.Deleted = true
	m.log(fmt.Sprintf("Marked as deleted by %s", modifier), time.Now().UnixMilli())
}

// MarkUndeleted reverses a soft delete.
func (m *RecordMetadata) MarkUndeleted(modifier string) {
	m.Deleted = false
	m.log(fmt.Sprintf("Marked as undeleted by %s", modifier), time.Now().UnixMilli())
}

// MarkInactive flags the record inactive without deleting it.
func (m *RecordMetadata) MarkInactive(modifier string) {
	m.Active = false
	m.log(fmt.Sprintf("Marked as inactive by %s", modifier), time.Now().UnixMilli())
}

// MarkDeprecated flags the record deprecated.
func (m *RecordMetadata) MarkDeprecated(modifier string) {
	m.Deprecated = true
	m.log(fmt.Sprintf("Marked as deprecated by %s", modifier), time.Now().UnixMilli())
}

// AddTag appends a free-form tag.
func (m *RecordMetadata) AddTag(tag string) {
	m.Tags = append(m.Tags, tag)
}
