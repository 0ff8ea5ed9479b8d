// Package handlers turns client commands into storage calls, registry
// updates and events. The Dispatcher is the single entry point for socket
// frames; the HTTP handlers live next to it.
package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/thereayou/concord/internal/cid"
	"github.com/thereayou/concord/internal/config"
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/media"
	"github.com/thereayou/concord/internal/services"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/auth"
	"github.com/thereayou/concord/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/thereayou/concord/internal/handlers"

// BlobRemover deletes attachment blobs off the request path.
type BlobRemover interface {
	RemoveLater(names []string)
}

type Dispatcher struct {
	cfg    *config.Config
	store  services.Store
	hub    *ws.Hub
	rooms  *media.Rooms
	tokens *auth.JWTManager
	blobs  BlobRemover
	tracer trace.Tracer
	now    func() time.Time
}

func NewDispatcher(cfg *config.Config, store services.Store, hub *ws.Hub, rooms *media.Rooms, tokens *auth.JWTManager, blobs BlobRemover) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		rooms:  rooms,
		tokens: tokens,
		blobs:  blobs,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// HandleMessage runs one inbound frame through rate limiting, envelope
// decoding and the auth gate, then routes it. Every failure becomes a
// realm:error on the same socket; none closes it.
func (d *Dispatcher) HandleMessage(client *ws.Client, data []byte) {
	if !client.Limiter().Allow() {
		client.SendError(protocol.CodeRateLimited, "Too many messages, slow down")
		return
	}

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		client.SendError(protocol.CodeInvalidMessage, "Failed to parse message")
		return
	}

	if !client.IsAuthenticated() && !protocol.PreAuth(env.Type) {
		client.SendError(protocol.CodeNotAuthenticated, "Complete authentication first")
		return
	}

	cmd, err := protocol.DecodeCommand(env)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			client.SendError(protocol.CodeUnknownType, "Unknown message type: "+env.Type)
		} else {
			client.SendError(protocol.CodeInvalidMessage, err.Error())
		}
		return
	}

	ctx := cid.WithCID(context.Background(), client.ID)
	ctx, span := d.tracer.Start(ctx, "ws "+env.Type, trace.WithAttributes(
		attribute.String(cid.AttributeName, client.ID),
		attribute.String("concord.message.id", env.ID),
		attribute.String("concord.message.type", env.Type),
	))
	defer span.End()

	err = d.run(ctx, client, cmd)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var perr *protocol.Error
	if errors.As(err, &perr) {
		client.SendError(perr.Code, perr.Message)
		return
	}
	log.Printf("[ws] %s %s failed: %v", client.ID, env.Type, err)
	client.SendError(protocol.CodeInternalError, "Internal server error")
}

func (d *Dispatcher) run(ctx context.Context, client *ws.Client, cmd protocol.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ws] %s panic in %s: %v", client.ID, cmd.CommandType(), r)
			err = protocol.NewError(protocol.CodeInvalidMessage, "Failed to process message")
		}
	}()
	return d.dispatch(ctx, client, cmd)
}

func (d *Dispatcher) dispatch(ctx context.Context, client *ws.Client, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case *protocol.UserProfile:
		return d.handleProfile(client, c)
	case *protocol.AuthResponse:
		return d.handleAuthResponse(client, c)
	case *protocol.RealmJoin:
		return d.handleRealmJoin(client)
	case *protocol.RealmUpdate:
		return d.handleRealmUpdate(client, c)
	case *protocol.RealmSetPasswordVerify:
		return d.handleRealmPassword(client, c)
	case *protocol.InviteRegenerate:
		return d.handleInviteRegenerate(client, c)
	case *protocol.ChannelJoin:
		return d.handleChannelJoin(client, c)
	case *protocol.ChannelFetchHistory:
		return d.handleFetchHistory(client, c)
	case *protocol.ChannelMessage:
		return d.handleChannelMessage(client, c)
	case *protocol.ChannelTyping:
		return d.handleTyping(client, c)
	case *protocol.ChannelCreate:
		return d.handleChannelCreate(client, c)
	case *protocol.ChannelDelete:
		return d.handleChannelDelete(client, c)
	case *protocol.ChannelSetPasswordVerify:
		return d.handleChannelPassword(client, c)
	case *protocol.DMOpen:
		return d.handleDMOpen(client, c)
	case *protocol.VoiceJoin:
		return d.handleVoiceJoin(ctx, client, c)
	case *protocol.VoiceLeave:
		d.leaveVoice(client)
		return nil
	case *protocol.VoiceCreateTransport:
		return d.handleCreateTransport(ctx, client, c)
	case *protocol.VoiceConnectTransport:
		return d.handleConnectTransport(ctx, client, c)
	case *protocol.VoiceProduce:
		return d.handleProduce(ctx, client, c)
	case *protocol.VoiceConsume:
		return d.handleConsume(ctx, client, c)
	case *protocol.VoiceCloseProducer:
		return d.handleCloseProducer(client, c)
	}
	return protocol.Errorf(protocol.CodeUnknownType, "Unknown message type: %s", cmd.CommandType())
}

// HandleDisconnect tears a socket down: challenge timer, voice state,
// registry entry, then member:leave once the identity has no socket left.
func (d *Dispatcher) HandleDisconnect(client *ws.Client) {
	client.CancelChallenge()
	d.leaveVoice(client)
	if !d.hub.Unregister(client) {
		return
	}
	pk := client.PublicKey()
	if pk == "" {
		return
	}
	if d.hub.IsOnline(pk) {
		return
	}
	d.hub.Broadcast(protocol.EventMemberLeave, protocol.MemberLeavePayload{PublicKey: pk}, nil)
	log.Printf("[ws] %s (%s) left", client.ID, short(pk))
}

func (d *Dispatcher) reply(client *ws.Client, eventType string, payload interface{}) {
	if err := client.SendEvent(eventType, payload); err != nil && !errors.Is(err, ws.ErrClientClosed) {
		log.Printf("[ws] %s send %s: %v", client.ID, eventType, err)
	}
}

func (d *Dispatcher) requireAdmin(client *ws.Client, action string) error {
	if !d.cfg.IsAdmin(client.PublicKey()) {
		return protocol.NewError(protocol.CodeForbidden, "Only admins can "+action)
	}
	return nil
}

// notFound maps a missing row to a NOT_FOUND error and passes anything else
// through.
func notFound(err error, message string) error {
	if errors.Is(err, database.ErrNotFound) {
		return protocol.NewError(protocol.CodeNotFound, message)
	}
	return err
}

func displayName(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

func short(publicKey string) string {
	if len(publicKey) > 8 {
		return publicKey[:8]
	}
	return publicKey
}

var _ ws.MessageHandler = (*Dispatcher)(nil)
