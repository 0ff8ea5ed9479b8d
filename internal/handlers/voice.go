package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/thereayou/concord/internal/media"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/protocol"
)

// engineTimeout bounds every call into a media worker made for one command.
const engineTimeout = 15 * time.Second

func voiceError(prefix string, err error) error {
	switch {
	case errors.Is(err, media.ErrUnavailable):
		return protocol.NewError(protocol.CodeVoiceError, "Voice is not available on this server")
	case errors.Is(err, media.ErrRoomFull):
		return protocol.NewError(protocol.CodeVoiceFull, "Voice channel is full")
	}
	return protocol.Errorf(protocol.CodeVoiceError, "%s: %v", prefix, err)
}

func (d *Dispatcher) producerClosed(channelID string, p media.ProducerInfo) {
	d.hub.Broadcast(protocol.EventVoiceProducerClosed, protocol.ProducerClosedPayload{
		ChannelID:         channelID,
		ProducerID:        p.ID,
		ProducerPublicKey: p.PublicKey,
		ProducerKind:      p.Role,
	}, nil)
}

func newProducerPayload(channelID string, p media.ProducerInfo) protocol.NewProducerPayload {
	return protocol.NewProducerPayload{
		ChannelID:         channelID,
		ProducerID:        p.ID,
		ProducerPublicKey: p.PublicKey,
		Kind:              p.Kind,
		ProducerKind:      p.Role,
	}
}

// handleVoiceJoin admits the client to the room, then catches it up: the
// joined reply, the roster, and every open producer, in that order.
func (d *Dispatcher) handleVoiceJoin(ctx context.Context, client *ws.Client, cmd *protocol.VoiceJoin) error {
	ch, err := d.channel(cmd.ChannelID)
	if err != nil {
		return err
	}
	if ch.Type != protocol.ChannelVoice {
		return protocol.NewError(protocol.CodeVoiceError, "Not a voice channel")
	}
	pk, name, _ := client.Identity()
	name = displayName(name)

	if prev := client.VoiceChannel(); prev != "" && prev != ch.ID {
		d.leaveVoice(client)
	}

	ctx, cancel := context.WithTimeout(ctx, engineTimeout)
	defer cancel()
	res, err := d.rooms.Join(ctx, ch.ID, pk, name, client.ID)
	if err != nil {
		return voiceError("Failed to join voice", err)
	}
	client.SetVoiceChannel(ch.ID)

	for _, p := range res.Replaced {
		d.producerClosed(ch.ID, p)
	}

	d.reply(client, protocol.EventVoiceJoined, protocol.VoiceJoinedPayload{
		ChannelID:       ch.ID,
		RtpCapabilities: res.RtpCapabilities,
		IceServers:      d.cfg.IceServers,
	})
	for _, p := range res.Roster {
		d.reply(client, protocol.EventVoiceParticipantJoined, protocol.ParticipantJoinedPayload{
			ChannelID: ch.ID,
			PublicKey: p.PublicKey,
			Name:      p.Name,
		})
	}
	for _, p := range res.Producers {
		d.reply(client, protocol.EventVoiceNewProducer, newProducerPayload(ch.ID, p))
	}

	d.hub.Broadcast(protocol.EventVoiceParticipantJoined, protocol.ParticipantJoinedPayload{
		ChannelID: ch.ID,
		PublicKey: pk,
		Name:      name,
	}, nil)
	log.Printf("[voice] %s joined %s", short(pk), ch.ID)
	return nil
}

func (d *Dispatcher) handleCreateTransport(ctx context.Context, client *ws.Client, cmd *protocol.VoiceCreateTransport) error {
	ctx, cancel := context.WithTimeout(ctx, engineTimeout)
	defer cancel()
	info, err := d.rooms.CreateTransport(ctx, cmd.ChannelID, client.PublicKey(), client.ID, cmd.Direction)
	if err != nil {
		return voiceError("Failed to create transport", err)
	}
	d.reply(client, protocol.EventVoiceTransportCreated, protocol.TransportCreatedPayload{
		ChannelID:      cmd.ChannelID,
		Direction:      cmd.Direction,
		TransportID:    info.ID,
		IceParameters:  info.Params.IceParameters,
		IceCandidates:  info.Params.IceCandidates,
		DtlsParameters: info.Params.DtlsParameters,
	})
	return nil
}

func (d *Dispatcher) handleConnectTransport(ctx context.Context, client *ws.Client, cmd *protocol.VoiceConnectTransport) error {
	ctx, cancel := context.WithTimeout(ctx, engineTimeout)
	defer cancel()
	err := d.rooms.ConnectTransport(ctx, cmd.ChannelID, client.PublicKey(), client.ID, cmd.TransportID, cmd.DtlsParameters)
	if errors.Is(err, media.ErrTransportNotFound) {
		return protocol.NewError(protocol.CodeVoiceError, "Transport not found")
	}
	if err != nil {
		return voiceError("Failed to connect transport", err)
	}
	return nil
}

func (d *Dispatcher) handleProduce(ctx context.Context, client *ws.Client, cmd *protocol.VoiceProduce) error {
	ctx, cancel := context.WithTimeout(ctx, engineTimeout)
	defer cancel()
	info, err := d.rooms.Produce(ctx, cmd.ChannelID, client.PublicKey(), client.ID, cmd.Kind, cmd.RtpParameters, cmd.ProducerKind)
	if err != nil {
		return voiceError("Failed to produce", err)
	}
	d.reply(client, protocol.EventVoiceProduced, protocol.ProducedPayload{
		ProducerID:   info.ID,
		ProducerKind: info.Role,
	})
	d.hub.Broadcast(protocol.EventVoiceNewProducer, newProducerPayload(cmd.ChannelID, *info), nil)
	return nil
}

func (d *Dispatcher) handleConsume(ctx context.Context, client *ws.Client, cmd *protocol.VoiceConsume) error {
	ctx, cancel := context.WithTimeout(ctx, engineTimeout)
	defer cancel()
	info, err := d.rooms.Consume(ctx, cmd.ChannelID, client.PublicKey(), client.ID, cmd.ProducerID)
	if err != nil {
		return voiceError("Failed to consume", err)
	}
	d.reply(client, protocol.EventVoiceConsumed, protocol.ConsumedPayload{
		ConsumerID:        info.ID,
		ProducerID:        info.ProducerID,
		Kind:              info.Kind,
		RtpParameters:     info.RtpParameters,
		ProducerKind:      info.ProducerKind,
		ProducerPublicKey: info.ProducerPublicKey,
	})
	return nil
}

func (d *Dispatcher) handleCloseProducer(client *ws.Client, cmd *protocol.VoiceCloseProducer) error {
	info, err := d.rooms.CloseProducer(cmd.ChannelID, client.PublicKey(), client.ID, cmd.ProducerID)
	if err != nil {
		return voiceError("Failed to close producer", err)
	}
	d.producerClosed(cmd.ChannelID, *info)
	return nil
}

// leaveVoice removes the client from its voice room. Nothing is broadcast
// when the room no longer holds this session, which happens after a newer
// session of the same identity took its place.
func (d *Dispatcher) leaveVoice(client *ws.Client) {
	channelID := client.VoiceChannel()
	if channelID == "" {
		return
	}
	client.SetVoiceChannel("")
	pk := client.PublicKey()
	produced, err := d.rooms.Leave(channelID, pk, client.ID)
	if err != nil {
		return
	}
	for _, p := range produced {
		d.producerClosed(channelID, p)
	}
	d.hub.Broadcast(protocol.EventVoiceParticipantLeft, protocol.ParticipantLeftPayload{
		ChannelID: channelID,
		PublicKey: pk,
	}, nil)
	log.Printf("[voice] %s left %s", short(pk), channelID)
}
