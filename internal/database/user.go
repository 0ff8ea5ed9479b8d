package database

import (
	"github.com/thereayou/concord/internal/models"
	"gorm.io/gorm/clause"
)

// UpsertProfile inserts the profile or refreshes name, bio and last seen.
func (d *Database) UpsertProfile(profile *models.UserProfile) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "public_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "bio", "last_seen"}),
	}).Create(profile).Error
}

func (d *Database) GetProfile(publicKey string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := d.db.First(&profile, "public_key = ?", publicKey).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (d *Database) ListProfiles() ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	err := d.db.Order("name ASC").Find(&profiles).Error
	return profiles, err
}
