package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"multichat/internal/domain"
)

type conversationRecord struct {
	ChatID      string                   `gorm:"primaryKey;size:64"`
	UserEmail   string                   `gorm:"index;size:320"`
	Selection   domain.Selection         `gorm:"serializer:json"`
	Messages    map[string]domain.Thread `gorm:"serializer:json"`
	LastUpdated time.Time
	Version     int64
}

func (conversationRecord) TableName() string { return "conversations" }

type profileRecord struct {
	UserID          string `gorm:"primaryKey;size:320"`
	Name            string `gorm:"size:120"`
	Email           string `gorm:"size:320"`
	Plan            string `gorm:"size:32"`
	Credits         int
	RemainingMsg    int
	SelectModelPref domain.Selection `gorm:"serializer:json"`
	CreatedAt       time.Time
}

func (profileRecord) TableName() string { return "users" }

// Store implements the conversation and profile document store on SQLite.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite: db must not be nil")
	}
	return &Store{db: db}, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*domain.Aggregate, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("sqlite: GetConversation: conversation id is required")
	}
	var rec conversationRecord
	if err := s.db.WithContext(ctx).Where("chat_id = ?", conversationID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: GetConversation: %w", err)
	}
	agg := domain.Aggregate{
		ConversationID: rec.ChatID,
		OwnerID:        rec.UserEmail,
		Selection:      rec.Selection,
		Threads:        rec.Messages,
		LastUpdated:    rec.LastUpdated.UTC(),
		Version:        rec.Version,
	}
	if agg.Selection == nil {
		agg.Selection = domain.Selection{}
	}
	if agg.Threads == nil {
		agg.Threads = map[string]domain.Thread{}
	}
	return &agg, nil
}

// PutConversation writes the aggregate only while the stored version equals
// expected. domain.NoStoredVersion inserts a conversation that must not exist
// yet. Any other stored state yields domain.ErrVersionConflict.
func (s *Store) PutConversation(ctx context.Context, agg domain.Aggregate, expected int64) error {
	if strings.TrimSpace(agg.ConversationID) == "" {
		return errors.New("sqlite: PutConversation: conversation id is required")
	}
	rec := conversationRecord{
		ChatID:      agg.ConversationID,
		UserEmail:   agg.OwnerID,
		Selection:   agg.Selection,
		Messages:    agg.Threads,
		LastUpdated: agg.LastUpdated.UTC(),
		Version:     agg.Version,
	}
	db := s.db.WithContext(ctx)
	var res *gorm.DB
	if expected == domain.NoStoredVersion {
		res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	} else {
		res = db.Model(&conversationRecord{}).
			Where("chat_id = ? AND version = ?", agg.ConversationID, expected).
			Select("user_email", "selection", "messages", "last_updated", "version").
			Updates(&rec)
	}
	if res.Error != nil {
		return fmt.Errorf("sqlite: PutConversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sqlite: PutConversation expected version %d: %w", expected, domain.ErrVersionConflict)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var rec profileRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: GetProfile: %w", err)
	}
	p := domain.UserProfile{
		UserID:          rec.UserID,
		Name:            rec.Name,
		Email:           rec.Email,
		Plan:            rec.Plan,
		Credits:         rec.Credits,
		RemainingMsg:    rec.RemainingMsg,
		SelectModelPref: rec.SelectModelPref,
		CreatedAt:       rec.CreatedAt.UTC(),
	}
	if p.Plan == "" {
		p.Plan = domain.PlanFree
	}
	return &p, nil
}

// CreateProfile writes a new profile. An existing profile is left untouched.
func (s *Store) CreateProfile(ctx context.Context, p domain.UserProfile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("sqlite: CreateProfile: user id is required")
	}
	rec := profileRecord{
		UserID:          p.UserID,
		Name:            p.Name,
		Email:           p.Email,
		Plan:            p.Plan,
		Credits:         p.Credits,
		RemainingMsg:    p.RemainingMsg,
		SelectModelPref: p.SelectModelPref,
		CreatedAt:       p.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("sqlite: CreateProfile: %w", err)
	}
	return nil
}

// UpdateSelection merges the selection preference into the user's profile,
// creating the row when it does not exist.
func (s *Store) UpdateSelection(ctx context.Context, userID string, selection domain.Selection) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("sqlite: UpdateSelection: user id is required")
	}
	rec := profileRecord{UserID: userID, SelectModelPref: selection}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"select_model_pref"}),
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("sqlite: UpdateSelection: %w", err)
	}
	return nil
}
