package services

import (
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/models"
)

// Store is the storage the realm handlers depend on. *database.Database
// implements it.
type Store interface {
	GetRealm() (*models.Realm, error)
	UpdateRealm(u database.RealmUpdate) (*models.Realm, error)
	SetRealmPasswordVerify(passwordVerify, passwordVerifyNonce *string) (*models.Realm, error)

	ListChannels() ([]models.Channel, error)
	ListDMChannels(publicKey string) ([]models.Channel, error)
	GetChannel(id string) (*models.Channel, error)
	CreateChannel(nc database.NewChannel) (*models.Channel, error)
	DeleteChannel(id string) ([]string, error)
	SetChannelPasswordVerify(id string, passwordVerify, passwordVerifyNonce *string) (*models.Channel, error)
	FindOrCreateDMChannel(a, b string) (*models.Channel, error)

	SaveMessage(message *models.Message, attachmentIDs []string) error
	GetChannelMessages(channelID string, limit int, before int64) ([]models.Message, error)

	UpsertProfile(profile *models.UserProfile) error
	GetProfile(publicKey string) (*models.UserProfile, error)
	ListProfiles() ([]models.UserProfile, error)

	ListInvites() ([]models.InviteLink, error)
	GetInviteKey(id string) (string, error)
	RegenerateInvite(id string) (*models.InviteLink, error)
}

// FileStore is the attachment metadata used by the HTTP file handlers.
type FileStore interface {
	CreateAttachment(a *models.Attachment) error
	GetAttachment(id string) (*models.Attachment, error)
	TotalStorageBytes() (int64, error)
}

// RetentionStore is what the pruning passes need.
type RetentionStore interface {
	GetRealm() (*models.Realm, error)
	DeleteMessagesBefore(cutoff int64) (int64, []string, error)
	DeleteAttachmentsBefore(cutoff int64) ([]string, error)
	KnownStoragePaths() (map[string]struct{}, error)
}

var (
	_ Store          = (*database.Database)(nil)
	_ FileStore      = (*database.Database)(nil)
	_ RetentionStore = (*database.Database)(nil)
)
