package domain

import "time"

// AlarmEvent represents a single normalized alarm row loaded from a source file.
// Immutable once stored.
type AlarmEvent struct {
	ID         uint      `gorm:"primaryKey"`
	Time       time.Time `gorm:"precision:3;not null;uniqueIndex:idx_dedup,priority:1;index:idx_time"`
	Instance   int       `gorm:"not null;uniqueIndex:idx_dedup,priority:2"`
	Name       string    `gorm:"size:255;not null;uniqueIndex:idx_dedup,priority:4"`
	Code       int       `gorm:"not null;uniqueIndex:idx_dedup,priority:3"`
	Severity   int       `gorm:"not null"`
	Info1      string    `gorm:"size:255"`
	Info2      string    `gorm:"size:255"`
	Change     string    `gorm:"type:text"`
	Message    string    `gorm:"type:text"`
	SourceFile string    `gorm:"size:255"`
	CreatedAt  time.Time
}

// NaturalKey identifies a logical alarm. Two events sharing a key are the same
// alarm regardless of message/change/info contents.
type NaturalKey struct {
	TimeMicro int64 // unix microseconds; source precision is milliseconds
	Instance  int
	Code      int
	Name      string
}

// NaturalKey returns the deduplication key for the event.
func (e AlarmEvent) NaturalKey() NaturalKey {
	return NaturalKey{
		TimeMicro: e.Time.UnixMicro(),
		Instance:  e.Instance,
		Code:      e.Code,
		Name:      e.Name,
	}
}
