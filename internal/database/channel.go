package database

import (
	"github.com/google/uuid"
	"github.com/thereayou/concord/internal/models"
	"github.com/thereayou/concord/pkg/protocol"
	"gorm.io/gorm"
)

// NewChannel describes an admin created channel.
type NewChannel struct {
	Name                string
	Type                protocol.ChannelType
	Encrypted           bool
	PasswordVerify      *string
	PasswordVerifyNonce *string
}

// EnsureDefaultChannels creates "general" and "voice" when no public
// channel exists yet.
func (d *Database) EnsureDefaultChannels() error {
	var count int64
	if err := d.db.Model(&models.Channel{}).Where("type <> ?", protocol.ChannelDM).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	defaults := []models.Channel{
		{ID: uuid.NewString(), Name: "general", Type: protocol.ChannelText, Position: 0},
		{ID: uuid.NewString(), Name: "voice", Type: protocol.ChannelVoice, Position: 1},
	}
	return d.db.Create(&defaults).Error
}

// ListChannels returns text and voice channels in display order.
func (d *Database) ListChannels() ([]models.Channel, error) {
	var channels []models.Channel
	err := d.db.Where("type <> ?", protocol.ChannelDM).
		Order("position ASC").
		Order("created_at ASC").
		Find(&channels).Error
	return channels, err
}

// ListDMChannels returns the dm channels publicKey takes part in.
func (d *Database) ListDMChannels(publicKey string) ([]models.Channel, error) {
	var channels []models.Channel
	err := d.db.Where("type = ? AND (participants LIKE ? OR participants LIKE ?)",
		protocol.ChannelDM, publicKey+":%", "%:"+publicKey).
		Order("created_at ASC").
		Find(&channels).Error
	if err != nil {
		return nil, err
	}
	// LIKE only narrows the scan; a key containing the separator could still
	// match a pair it is not part of.
	member := channels[:0]
	for _, ch := range channels {
		if ch.HasMember(publicKey) {
			member = append(member, ch)
		}
	}
	return member, nil
}

func (d *Database) GetChannel(id string) (*models.Channel, error) {
	var channel models.Channel
	if err := d.db.First(&channel, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &channel, nil
}

// CreateChannel appends a channel after the current last position.
func (d *Database) CreateChannel(nc NewChannel) (*models.Channel, error) {
	channel := models.Channel{
		ID:                  uuid.NewString(),
		Name:                nc.Name,
		Type:                nc.Type,
		Encrypted:           nc.Encrypted,
		PasswordVerify:      nc.PasswordVerify,
		PasswordVerifyNonce: nc.PasswordVerifyNonce,
	}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var maxPos int
		if err := tx.Model(&models.Channel{}).
			Where("type <> ?", protocol.ChannelDM).
			Select("COALESCE(MAX(position), -1)").
			Scan(&maxPos).Error; err != nil {
			return err
		}
		channel.Position = maxPos + 1
		return tx.Create(&channel).Error
	})
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// DeleteChannel removes the channel with its messages and their attachment
// rows. It returns the storage paths of the removed attachments so the caller
// can clean up blobs.
func (d *Database) DeleteChannel(id string) (paths []string, err error) {
	err = d.db.Transaction(func(tx *gorm.DB) error {
		var channel models.Channel
		if err := tx.First(&channel, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		msgIDs := tx.Model(&models.Message{}).Select("id").Where("channel_id = ?", id)
		if err := tx.Model(&models.Attachment{}).
			Where("message_id IN (?)", msgIDs).
			Pluck("storage_path", &paths).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Message{}, "channel_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&channel).Error
	})
	return paths, err
}

func (d *Database) SetChannelPasswordVerify(id string, passwordVerify, passwordVerifyNonce *string) (*models.Channel, error) {
	encrypted := passwordVerify != nil && passwordVerifyNonce != nil
	if !encrypted {
		passwordVerify, passwordVerifyNonce = nil, nil
	}
	res := d.db.Model(&models.Channel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"password_verify":       passwordVerify,
		"password_verify_nonce": passwordVerifyNonce,
		"encrypted":             encrypted,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return d.GetChannel(id)
}

// FindOrCreateDMChannel returns the one dm channel for the unordered pair
// (a, b), creating it on first use. The unique participants key settles
// concurrent creation: the loser re-reads the winner's row.
func (d *Database) FindOrCreateDMChannel(a, b string) (*models.Channel, error) {
	if a == b {
		return nil, ErrSelfDirect
	}
	key := models.DMKey(a, b)

	var channel models.Channel
	err := d.db.First(&channel, "type = ? AND participants = ?", protocol.ChannelDM, key).Error
	if err == nil {
		return &channel, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	channel = models.Channel{
		ID:           uuid.NewString(),
		Name:         "dm:" + key,
		Type:         protocol.ChannelDM,
		Participants: &key,
	}
	if createErr := d.db.Create(&channel).Error; createErr != nil {
		var existing models.Channel
		if err := d.db.First(&existing, "type = ? AND participants = ?", protocol.ChannelDM, key).Error; err != nil {
			return nil, createErr
		}
		return &existing, nil
	}
	return &channel, nil
}
