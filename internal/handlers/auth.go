package handlers

import (
	"log"

	"github.com/thereayou/concord/internal/models"
	ws "github.com/thereayou/concord/internal/websocket"
	"github.com/thereayou/concord/pkg/auth"
	"github.com/thereayou/concord/pkg/protocol"
)

// handleProfile is both the identity claim of a fresh socket and the
// profile edit of an authenticated one.
func (d *Dispatcher) handleProfile(client *ws.Client, cmd *protocol.UserProfile) error {
	if pk, _, ok := client.Identity(); ok {
		if cmd.PublicKey != pk {
			return protocol.NewError(protocol.CodeIdentityMismatch, "Public key does not match the authenticated identity")
		}
		name := displayName(cmd.Name)
		client.UpdateProfile(name, cmd.Bio)
		profile := &models.UserProfile{PublicKey: pk, Name: name, Bio: cmd.Bio, LastSeen: d.now().UnixMilli()}
		if err := d.store.UpsertProfile(profile); err != nil {
			return err
		}
		d.hub.Broadcast(protocol.EventMemberJoin, protocol.MemberJoinPayload{Member: profile.Member()}, client)
		return nil
	}

	nonce, err := auth.NewNonce()
	if err != nil {
		return err
	}
	client.BeginChallenge(cmd.PublicKey, cmd.Name, cmd.Bio, nonce, d.cfg.AuthTimeout, func() {
		log.Printf("[ws] %s authentication timed out", client.ID)
		client.SendError(protocol.CodeAuthTimeout, "Authentication timed out")
		client.CloseWithReason(ws.CloseAuthTimeout, "authentication timeout")
	})
	d.reply(client, protocol.EventAuthChallenge, protocol.AuthChallengePayload{Nonce: nonce})
	return nil
}

func (d *Dispatcher) handleAuthResponse(client *ws.Client, cmd *protocol.AuthResponse) error {
	if client.IsAuthenticated() {
		return protocol.NewError(protocol.CodeAuthFailed, "Already authenticated")
	}
	nonce, pk, ok := client.PendingChallenge()
	if !ok {
		return protocol.NewError(protocol.CodeAuthFailed, "Send user:profile before auth:response")
	}
	if err := auth.VerifyChallenge(nonce, pk, cmd.Signature); err != nil {
		client.FailChallenge()
		log.Printf("[ws] %s failed authentication as %s: %v", client.ID, short(pk), err)
		return protocol.NewError(protocol.CodeAuthFailed, "Invalid signature")
	}
	if !client.CompleteChallenge(nonce) {
		return protocol.NewError(protocol.CodeAuthFailed, "Challenge is no longer valid")
	}

	for _, old := range d.hub.SessionsOf(pk, client) {
		log.Printf("[ws] %s replaced by %s for %s", old.ID, client.ID, short(pk))
		old.SendError(protocol.CodeSessionReplaced, "Signed in from another connection")
		old.CloseWithReason(ws.CloseSessionReplaced, "session replaced")
	}

	name := displayName(client.Name())
	client.UpdateProfile(name, client.Bio())
	profile := &models.UserProfile{PublicKey: pk, Name: name, Bio: client.Bio(), LastSeen: d.now().UnixMilli()}
	if err := d.store.UpsertProfile(profile); err != nil {
		log.Printf("[ws] %s upsert profile: %v", client.ID, err)
	}

	var token string
	if d.tokens != nil {
		t, err := d.tokens.Generate(pk, name)
		if err != nil {
			log.Printf("[ws] %s issue session token: %v", client.ID, err)
		}
		token = t
	}
	d.reply(client, protocol.EventAuthVerified, protocol.AuthVerifiedPayload{Token: token})
	d.hub.Broadcast(protocol.EventMemberJoin, protocol.MemberJoinPayload{Member: profile.Member()}, client)
	log.Printf("[ws] %s authenticated as %s (%s)", client.ID, short(pk), name)
	return nil
}
