package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"homeroom/services/homeroom/internal/domain"
)

// Transcript is the archived form of one served exchange.
type Transcript struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Endpoint  string    `json:"endpoint" gorm:"size:32;not null;index"`
	Persona   string    `json:"persona" gorm:"size:32;not null;index:idx_persona_created,priority:1"`
	Client    string    `json:"client" gorm:"size:128;index"`
	Input     string    `json:"input" gorm:"type:text"`
	Output    string    `json:"output" gorm:"type:text"`
	Source    string    `json:"source" gorm:"type:varchar(16);not null;check:source IN ('llm','fallback')"`
	Failure   string    `json:"failure,omitempty" gorm:"size:32"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_persona_created,priority:2"`
}

func (Transcript) TableName() string {
	return "transcripts"
}

func toTranscript(ex *domain.Exchange) *Transcript {
	return &Transcript{
		ID:        ex.ID,
		Endpoint:  ex.Endpoint,
		Persona:   ex.Persona,
		Client:    ex.Client,
		Input:     ex.Input,
		Output:    ex.Output,
		Source:    string(ex.Source),
		Failure:   ex.Failure,
		LatencyMS: ex.Latency.Milliseconds(),
		CreatedAt: ex.CreatedAt,
	}
}

type TranscriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

func (r *TranscriptRepository) Record(ctx context.Context, ex *domain.Exchange) error {
	if err := r.db.WithContext(ctx).Create(toTranscript(ex)).Error; err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	return nil
}

// Recent lists the newest transcripts, optionally for one persona.
func (r *TranscriptRepository) Recent(ctx context.Context, persona string, limit int) ([]*Transcript, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if persona != "" {
		q = q.Where("persona = ?", persona)
	}
	var out []*Transcript
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	return out, nil
}

func (r *TranscriptRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Transcript{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete transcripts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
