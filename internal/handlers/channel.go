package handlers

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/models"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/auth"
	"github.com/thereayou/concord/pkg/protocol"
)

// historyPage is the number of messages per history reply. hasMore is set
// when a page comes back full.
const historyPage = 100

func (d *Dispatcher) channel(id string) (*models.Channel, error) {
	ch, err := d.store.GetChannel(id)
	if err != nil {
		return nil, notFound(err, "Channel not found")
	}
	return ch, nil
}

func checkDMAccess(ch *models.Channel, publicKey string) error {
	if ch.Type == protocol.ChannelDM && !ch.HasMember(publicKey) {
		return protocol.NewError(protocol.CodeForbidden, "You are not a participant of this conversation")
	}
	return nil
}

func (d *Dispatcher) sendHistory(client *ws.Client, channelID string, before int64) error {
	msgs, err := d.store.GetChannelMessages(channelID, historyPage, before)
	if err != nil {
		return err
	}
	wire := make([]protocol.ChatMessage, 0, len(msgs))
	for i := range msgs {
		wire = append(wire, msgs[i].Wire())
	}
	d.reply(client, protocol.EventChannelHistory, protocol.ChannelHistoryPayload{
		ChannelID: channelID,
		Messages:  wire,
		HasMore:   len(msgs) == historyPage,
	})
	return nil
}

func (d *Dispatcher) handleChannelJoin(client *ws.Client, cmd *protocol.ChannelJoin) error {
	ch, err := d.channel(cmd.ChannelID)
	if err != nil {
		return err
	}
	if err := checkDMAccess(ch, client.PublicKey()); err != nil {
		return err
	}
	client.JoinChannel(ch.ID)
	return d.sendHistory(client, ch.ID, 0)
}

func (d *Dispatcher) handleFetchHistory(client *ws.Client, cmd *protocol.ChannelFetchHistory) error {
	if !client.HasJoined(cmd.ChannelID) {
		return protocol.NewError(protocol.CodeNotJoined, "Join the channel before fetching history")
	}
	return d.sendHistory(client, cmd.ChannelID, cmd.Before)
}

func (d *Dispatcher) handleChannelMessage(client *ws.Client, cmd *protocol.ChannelMessage) error {
	pk := client.PublicKey()
	if cmd.Message.SenderPublicKey != pk {
		return protocol.NewError(protocol.CodeIdentityMismatch, "Sender does not match the authenticated identity")
	}
	ch, err := d.channel(cmd.ChannelID)
	if err != nil {
		return err
	}
	if err := checkDMAccess(ch, pk); err != nil {
		return err
	}

	now := d.now().UnixMilli()
	msg := &models.Message{
		ID:              uuid.NewString(),
		ChannelID:       ch.ID,
		SenderPublicKey: pk,
		Content:         cmd.Message.Content,
		Signature:       cmd.Message.Signature,
		Nonce:           cmd.Message.Nonce,
		CreatedAt:       now,
	}
	if err := d.store.SaveMessage(msg, cmd.AttachmentIDs); err != nil {
		return err
	}

	name := displayName(cmd.Profile.Name)
	profile := &models.UserProfile{PublicKey: pk, Name: name, Bio: client.Bio(), LastSeen: now}
	if err := d.store.UpsertProfile(profile); err != nil {
		log.Printf("[ws] %s refresh profile: %v", client.ID, err)
	}

	d.hub.SendToChannel(ch.ID, protocol.EventChannelMessage, protocol.ChannelMessagePayload{
		ChannelID: ch.ID,
		Message:   msg.Wire(),
		Profile:   protocol.MessageProfile{Name: name},
	}, nil)
	return nil
}

func (d *Dispatcher) handleTyping(client *ws.Client, cmd *protocol.ChannelTyping) error {
	pk, name, _ := client.Identity()
	if cmd.PublicKey != pk || !client.HasJoined(cmd.ChannelID) {
		return nil
	}
	d.hub.SendToChannel(cmd.ChannelID, protocol.EventChannelTyping, protocol.ChannelTypingPayload{
		ChannelID: cmd.ChannelID,
		PublicKey: pk,
		Name:      displayName(name),
	}, client)
	return nil
}

func (d *Dispatcher) handleDMOpen(client *ws.Client, cmd *protocol.DMOpen) error {
	realm, err := d.store.GetRealm()
	if err != nil {
		return err
	}
	if !realm.AllowDirectMessages {
		return protocol.NewError(protocol.CodeDMDisabled, "Direct messages are disabled on this realm")
	}
	pk := client.PublicKey()
	if cmd.TargetPublicKey == pk {
		return protocol.NewError(protocol.CodeInvalidTarget, "Cannot open a direct message with yourself")
	}
	if _, err := auth.DecodePublicKey(cmd.TargetPublicKey); err != nil {
		return protocol.NewError(protocol.CodeInvalidTarget, "Target is not a valid public key")
	}

	ch, err := d.store.FindOrCreateDMChannel(pk, cmd.TargetPublicKey)
	if errors.Is(err, database.ErrSelfDirect) {
		return protocol.NewError(protocol.CodeInvalidTarget, "Cannot open a direct message with yourself")
	}
	if err != nil {
		return err
	}

	payload := protocol.DMOpenedPayload{Channel: ch.Wire()}
	client.JoinChannel(ch.ID)
	d.reply(client, protocol.EventDMOpened, payload)
	for _, target := range d.hub.SessionsOf(cmd.TargetPublicKey, nil) {
		target.JoinChannel(ch.ID)
		d.reply(target, protocol.EventDMOpened, payload)
	}
	return nil
}

func (d *Dispatcher) handleChannelCreate(client *ws.Client, cmd *protocol.ChannelCreate) error {
	if err := d.requireAdmin(client, "create channels"); err != nil {
		return err
	}
	ch, err := d.store.CreateChannel(database.NewChannel{
		Name:                cmd.Name,
		Type:                cmd.Type,
		Encrypted:           cmd.Encrypted,
		PasswordVerify:      cmd.PasswordVerify,
		PasswordVerifyNonce: cmd.PasswordVerifyNonce,
	})
	if err != nil {
		return err
	}
	log.Printf("[ws] %s created %s channel %q", short(client.PublicKey()), ch.Type, ch.Name)
	d.hub.Broadcast(protocol.EventChannelCreate, protocol.ChannelCreatePayload{Channel: ch.Wire()}, nil)
	return nil
}

// handleChannelDelete removes the channel and its history, drops it from
// every joined set and ends the voice session of anyone still in it.
func (d *Dispatcher) handleChannelDelete(client *ws.Client, cmd *protocol.ChannelDelete) error {
	if err := d.requireAdmin(client, "delete channels"); err != nil {
		return err
	}
	paths, err := d.store.DeleteChannel(cmd.ChannelID)
	if err != nil {
		return notFound(err, "Channel not found")
	}
	d.hub.ForgetChannel(cmd.ChannelID)
	if d.blobs != nil {
		d.blobs.RemoveLater(paths)
	}
	for _, c := range d.hub.InVoice(cmd.ChannelID) {
		d.leaveVoice(c)
	}
	d.hub.Broadcast(protocol.EventChannelDelete, protocol.ChannelDeletePayload{ChannelID: cmd.ChannelID}, nil)
	return nil
}

func (d *Dispatcher) handleChannelPassword(client *ws.Client, cmd *protocol.ChannelSetPasswordVerify) error {
	if err := d.requireAdmin(client, "set channel passwords"); err != nil {
		return err
	}
	ch, err := d.store.SetChannelPasswordVerify(cmd.ChannelID, cmd.PasswordVerify, cmd.PasswordVerifyNonce)
	if err != nil {
		return notFound(err, "Channel not found")
	}
	d.hub.Broadcast(protocol.EventChannelUpdate, protocol.ChannelUpdatePayload{Channel: ch.Wire()}, nil)
	return nil
}
