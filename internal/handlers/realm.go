package handlers

import (
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/models"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/protocol"
)

func (d *Dispatcher) handleRealmJoin(client *ws.Client) error {
	pk := client.PublicKey()
	if d.cfg.MaxMembers > 0 && d.hub.AuthenticatedCount(client) >= d.cfg.MaxMembers {
		return protocol.NewError(protocol.CodeCapacityReached, "This realm has reached its member limit")
	}

	realm, err := d.store.GetRealm()
	if err != nil {
		return err
	}
	public, err := d.store.ListChannels()
	if err != nil {
		return err
	}
	dms, err := d.store.ListDMChannels(pk)
	if err != nil {
		return err
	}
	profiles, err := d.store.ListProfiles()
	if err != nil {
		return err
	}
	invites, err := d.store.ListInvites()
	if err != nil {
		return err
	}

	channels := make([]protocol.Channel, 0, len(public)+len(dms))
	for i := range public {
		channels = append(channels, public[i].Wire())
	}
	for i := range dms {
		client.JoinChannel(dms[i].ID)
		channels = append(channels, dms[i].Wire())
	}
	members := make([]protocol.Member, 0, len(profiles))
	for i := range profiles {
		members = append(members, profiles[i].Member())
	}

	d.reply(client, protocol.EventRealmWelcome, protocol.WelcomePayload{
		Realm:             realm.Info(),
		Channels:          channels,
		Members:           members,
		OnlineKeys:        d.hub.OnlineKeys(),
		IsAdmin:           d.cfg.IsAdmin(pk),
		VoiceParticipants: d.rooms.Participants(),
		ScreenSharers:     d.rooms.ScreenSharers(),
		InviteLinks:       wireInvites(invites),
	})
	return nil
}

func (d *Dispatcher) handleRealmUpdate(client *ws.Client, cmd *protocol.RealmUpdate) error {
	if err := d.requireAdmin(client, "update the realm"); err != nil {
		return err
	}
	realm, err := d.store.UpdateRealm(database.RealmUpdate{
		Name:                 cmd.Name,
		Description:          cmd.Description,
		AllowDirectMessages:  cmd.AllowDirectMessages,
		SetRetentionDays:     cmd.RetentionDays.Set,
		RetentionDays:        cmd.RetentionDays.Value,
		SetFileRetentionDays: cmd.FileRetentionDays.Set,
		FileRetentionDays:    cmd.FileRetentionDays.Value,
	})
	if err != nil {
		return err
	}
	d.hub.Broadcast(protocol.EventRealmUpdate, protocol.RealmUpdatePayload{Realm: realm.Info()}, nil)
	return nil
}

func (d *Dispatcher) handleRealmPassword(client *ws.Client, cmd *protocol.RealmSetPasswordVerify) error {
	if err := d.requireAdmin(client, "set the realm password"); err != nil {
		return err
	}
	realm, err := d.store.SetRealmPasswordVerify(cmd.PasswordVerify, cmd.PasswordVerifyNonce)
	if err != nil {
		return err
	}
	d.hub.Broadcast(protocol.EventRealmUpdate, protocol.RealmUpdatePayload{Realm: realm.Info()}, nil)
	return nil
}

func (d *Dispatcher) handleInviteRegenerate(client *ws.Client, cmd *protocol.InviteRegenerate) error {
	if err := d.requireAdmin(client, "regenerate invite links"); err != nil {
		return err
	}
	if _, err := d.store.RegenerateInvite(cmd.InviteID); err != nil {
		return notFound(err, "Invite link not found")
	}
	invites, err := d.store.ListInvites()
	if err != nil {
		return err
	}
	d.hub.Broadcast(protocol.EventInviteRegenerated, protocol.InviteRegeneratedPayload{InviteLinks: wireInvites(invites)}, nil)
	return nil
}

func wireInvites(invites []models.InviteLink) []protocol.InviteLink {
	out := make([]protocol.InviteLink, 0, len(invites))
	for i := range invites {
		out = append(out, invites[i].Wire())
	}
	return out
}
