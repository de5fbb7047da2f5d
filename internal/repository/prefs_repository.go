package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskdeck/internal/model"
)

// PrefsRepository persists per-chat view preferences.
type PrefsRepository struct {
	db *gorm.DB
}

func NewPrefsRepository(db *gorm.DB) *PrefsRepository {
	return &PrefsRepository{db: db}
}

// FindByChatID loads the saved preferences for a chat, or nil when the
// chat has never changed its view.
func (r *PrefsRepository) FindByChatID(ctx context.Context, chatID int64) (*model.ChatPrefs, error) {
	var prefs model.ChatPrefs
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&prefs).Error
	switch {
	case err == nil:
		return &prefs, nil
	case err == gorm.ErrRecordNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("find prefs: %w", err)
	}
}

// Save upserts the chat's preferences keyed by chat id.
func (r *PrefsRepository) Save(ctx context.Context, prefs *model.ChatPrefs) error {
	db := r.db.WithContext(ctx)

	var existing model.ChatPrefs
	err := db.Where("chat_id = ?", prefs.ChatID).First(&existing).Error
	switch {
	case err == nil:
		prefs.ID = existing.ID
		prefs.CreatedAt = existing.CreatedAt
		if err := db.Save(prefs).Error; err != nil {
			return fmt.Errorf("update prefs: %w", err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		if err := db.Create(prefs).Error; err != nil {
			return fmt.Errorf("create prefs: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find prefs: %w", err)
	}
}

// ListChatIDs returns every chat with saved preferences, used by the
// daily digest to know who to notify.
func (r *PrefsRepository) ListChatIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&model.ChatPrefs{}).Pluck("chat_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return ids, nil
}

// DeleteByChatID drops a chat's saved view, reverting it to defaults.
func (r *PrefsRepository) DeleteByChatID(ctx context.Context, chatID int64) error {
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&model.ChatPrefs{}).Error; err != nil {
		return fmt.Errorf("delete prefs: %w", err)
	}
	return nil
}
