// Package message implements the send pipeline (spec §4.H): the single
// path every client-authored message travels from wire decode to
// committed row to fan-out. This is the busiest component in the system
// and the one most other packages exist to support.
//
// Grounded on server/topic.go's run() loop (persist-then-broadcast
// ordering, the "replace lastId on success" step) and server/session.go's
// publish handler (payload decode, dup detection via the session's seq
// cache).
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/privchat/privchat/internal/cache"
	"github.com/privchat/privchat/internal/channel"
	"github.com/privchat/privchat/internal/conn"
	"github.com/privchat/privchat/internal/ids"
	"github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
	"github.com/privchat/privchat/internal/wire"
)

// Errors returned by SendMessage, mapped to wire.ReasonCode by the gateway.
var (
	ErrChannelNotFound  = errors.New("message: channel not found")
	ErrNotMember        = errors.New("message: sender is not a channel participant")
	ErrMuted            = errors.New("message: channel is muted for sender")
	ErrInvalidPayload   = errors.New("message: invalid payload")
	ErrReplyNotFound    = errors.New("message: reply_to_message_id not found in channel")
	ErrMentionAllDenied = errors.New("message: only owner or admin may mention all members")
)

// replyPreviewLen is the truncation length for the preview attached to a
// reply target, per spec §4.H step 8.
const replyPreviewLen = 50

// OfflineQueue is the subset of internal/offlinequeue's API the pipeline
// needs, declared here to avoid a package import cycle (offlinequeue will
// in turn depend on wire for payload shape, not on message).
type OfflineQueue interface {
	Enqueue(ctx context.Context, userID uint64, packet []byte) error
	// RemoveMessageByID scrubs pending copies of messageID from userID's
	// mailbox, used by revoke (spec §4.H "Revoke/delete").
	RemoveMessageByID(ctx context.Context, userID, messageID uint64) error
}

// EventPublisher is the subset of internal/eventbus's API the pipeline
// needs to announce commits, deliveries and revokes to interested
// subscribers (push planner, presence, search indexers).
type EventPublisher interface {
	PublishMessageCommitted(ctx context.Context, evt MessageCommittedEvent)
	PublishMessageDelivered(ctx context.Context, messageID, userID uint64, deviceID string)
	PublishMessageRevoked(ctx context.Context, messageID uint64)
}

// MessageCommittedEvent is published exactly once per successfully
// committed message, after persistence and before the handler returns.
type MessageCommittedEvent struct {
	Message      *store.Message
	ChannelType  store.ChannelType
	RecipientIDs []uint64
	MentionedIDs []uint64
}

// BlacklistChecker answers whether fromID is blocked from messaging toID.
// A nil checker means the predicate always passes (used for group channels
// and in tests).
type BlacklistChecker interface {
	IsBlocked(ctx context.Context, fromID, toID uint64) (bool, error)
}

// FileLookup resolves the uploader of a previously-uploaded file, used to
// confirm a media message's metadata.file_id actually belongs to its
// sender. A nil checker skips the uploader check (used in tests and in
// deployments with no file service configured).
type FileLookup interface {
	UploaderID(ctx context.Context, fileID string) (uint64, error)
}

// dedupEntry is a short-lived record of an already-committed
// (sender, local_message_id) pair, checked before the slower DB fallback.
type dedupEntry struct {
	message *store.Message
	expires time.Time
}

const dedupWindow = 2 * time.Minute

// Pipeline implements SendMessage and its supporting validation steps.
type Pipeline struct {
	channels  *channel.Service
	messages  store.MessageRepository
	members   store.ChannelRepository
	generator *ids.Generator
	cache     *cache.Cache
	connReg   *conn.Registry
	sessions  *session.Registry
	offline   OfflineQueue
	bus       EventPublisher
	blacklist BlacklistChecker
	files     FileLookup

	dedupMu sync.Mutex
	dedup   map[dedupKey]dedupEntry
}

type dedupKey struct {
	senderID       uint64
	localMessageID uint64
}

// Config bundles Pipeline's dependencies.
type Config struct {
	Channels  *channel.Service
	Messages  store.MessageRepository
	Members   store.ChannelRepository
	Generator *ids.Generator
	Cache     *cache.Cache
	Conn      *conn.Registry
	Sessions  *session.Registry
	Offline   OfflineQueue
	Bus       EventPublisher
	Blacklist BlacklistChecker
	Files     FileLookup
}

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		channels:  cfg.Channels,
		messages:  cfg.Messages,
		members:   cfg.Members,
		generator: cfg.Generator,
		cache:     cfg.Cache,
		connReg:   cfg.Conn,
		sessions:  cfg.Sessions,
		offline:   cfg.Offline,
		bus:       cfg.Bus,
		blacklist: cfg.Blacklist,
		files:     cfg.Files,
		dedup:     make(map[dedupKey]dedupEntry),
	}
}

// SendMessage runs the full commit pipeline described in spec §4.H:
//
//  1. dedup check (in-memory window, then DB fallback)
//  2. channel resolution, cache-aside with repopulation on a miss
//  3. membership check
//  4. posting-permission check (mute / capability)
//  5. blacklist/privacy predicate
//  6. payload parse and type-specific validation
//  7. reply-target validation and preview
//  8. mention resolution, rejecting an unauthorized mention-all
//  9. pts allocation and commit, retried once on a pts race
//  10. dedup mark
//  11. fan-out: realtime push to READY recipients (sender included, as echo)
//  12. fan-out: offline-queue enqueue for everyone else
//  13. event-bus publish
//  14. response to sender
func (p *Pipeline) SendMessage(ctx context.Context, req wire.SendMessageRequest) wire.SendMessageResponse {
	if existing := p.checkDedupMemory(req.FromUID, req.LocalMessageID); existing != nil {
		return p.dedupResponse(req)
	}
	if existing, err := p.messages.FindByDedupKey(ctx, req.FromUID, req.LocalMessageID); err == nil && existing != nil {
		p.markDedup(req.FromUID, req.LocalMessageID, existing)
		return p.dedupResponse(req)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return p.failResponse(req, wire.ReasonStorageFailure, fmt.Errorf("message: dedup lookup: %w", err))
	}

	ch, err := p.resolveChannel(ctx, req)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return p.failResponse(req, wire.ReasonChannelNotFound, err)
		}
		return p.failResponse(req, wire.ReasonStorageFailure, err)
	}

	member, isMember, err := p.channels.IsParticipant(ctx, ch.ID, req.FromUID)
	if err != nil {
		return p.failResponse(req, wire.ReasonStorageFailure, err)
	}
	if !isMember {
		return p.failResponse(req, wire.ReasonPermission, ErrNotMember)
	}
	if !channel.Can(member.Role, channel.CanSendMessage) {
		return p.failResponse(req, wire.ReasonPermission, ErrNotMember)
	}
	if member.IsMuted || ch.Settings.IsMutedAll {
		return p.failResponse(req, wire.ReasonMuted, ErrMuted)
	}

	if ch.ChannelType == store.ChannelDirect && p.blacklist != nil {
		otherID := otherDirectParticipant(ch, req.FromUID)
		blocked, err := p.blacklist.IsBlocked(ctx, req.FromUID, otherID)
		if err != nil {
			return p.failResponse(req, wire.ReasonStorageFailure, err)
		}
		if blocked {
			return p.failResponse(req, wire.ReasonPermission, fmt.Errorf("message: recipient has blocked sender"))
		}
	}

	payload, err := p.parsePayload(ctx, req)
	if err != nil {
		return p.failResponse(req, wire.ReasonValidation, err)
	}

	var replyTo *uint64
	var replyPreview *wire.ReplyPreview
	if payload.ReplyToMessageID != "" {
		target, preview, err := p.validateReplyTarget(ctx, ch.ID, payload.ReplyToMessageID)
		if err != nil {
			return p.failResponse(req, wire.ReasonValidation, err)
		}
		replyTo = &target
		replyPreview = preview
	}

	mentioned, err := p.resolveMentions(ctx, ch, member.Role, payload.Content, payload.MentionedUserIDs)
	if err != nil {
		return p.failResponse(req, wire.ReasonPermission, err)
	}

	msg, err := p.commitWithRetry(ctx, req, ch, payload, replyTo)
	if err != nil {
		return p.failResponse(req, wire.ReasonStorageFailure, err)
	}

	p.markDedup(req.FromUID, req.LocalMessageID, msg)

	p.fanOut(ctx, ch, msg, mentioned, replyPreview)

	return p.successResponse(req, msg)
}

// resolveChannel looks up the target channel cache-aside: L1/L2 first,
// falling back to the repository and repopulating the cache on a miss.
// It never fabricates a channel the repository doesn't have — there is no
// (target_user_id) on SendMessageRequest to reconstruct a Direct channel
// from, only a channel_id, so an authoritative miss is a genuine
// ErrChannelNotFound rather than a self-heal opportunity.
func (p *Pipeline) resolveChannel(ctx context.Context, req wire.SendMessageRequest) (*store.Channel, error) {
	if req.ChannelID == 0 {
		return nil, ErrChannelNotFound
	}

	key := channelCacheKey(req.ChannelID)
	if p.cache != nil {
		var cached store.Channel
		if ok, err := p.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	ch, err := p.members.Get(ctx, req.ChannelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("message: resolve channel: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.SetJSON(ctx, key, ch); err != nil {
			log.Printf("message: resolve channel: cache channel %d: %v", ch.ID, err)
		}
	}
	return ch, nil
}

func channelCacheKey(channelID uint64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

func otherDirectParticipant(ch *store.Channel, userID uint64) uint64 {
	if ch.DirectUser1ID != nil && *ch.DirectUser1ID != userID {
		return *ch.DirectUser1ID
	}
	if ch.DirectUser2ID != nil {
		return *ch.DirectUser2ID
	}
	return 0
}

// parsePayload decodes and validates the type-specific payload. Structural
// validation only; content moderation is out of scope.
func (p *Pipeline) parsePayload(ctx context.Context, req wire.SendMessageRequest) (wire.SendMessagePayload, error) {
	var payload wire.SendMessagePayload
	if len(req.Payload) == 0 {
		return payload, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch store.MessageType(req.MessageType) {
	case store.MessageText:
		if payload.Content == "" {
			return payload, fmt.Errorf("%w: text message requires content", ErrInvalidPayload)
		}
	case store.MessageImage, store.MessageVideo, store.MessageVoice, store.MessageAudio, store.MessageFile:
		fileID, _ := payload.Metadata["file_id"].(string)
		if payload.Metadata == nil || fileID == "" {
			return payload, fmt.Errorf("%w: media message requires metadata.file_id", ErrInvalidPayload)
		}
		if p.files != nil {
			uploaderID, err := p.files.UploaderID(ctx, fileID)
			if err != nil {
				return payload, fmt.Errorf("message: resolve file uploader: %w", err)
			}
			if uploaderID != req.FromUID {
				return payload, fmt.Errorf("%w: file %s was not uploaded by sender", ErrInvalidPayload, fileID)
			}
		}
	case store.MessageLocation:
		if payload.Metadata == nil || payload.Metadata["lat"] == nil || payload.Metadata["lng"] == nil {
			return payload, fmt.Errorf("%w: location message requires metadata.lat/lng", ErrInvalidPayload)
		}
	case store.MessageContactCard:
		if payload.Metadata == nil || payload.Metadata["user_id"] == nil {
			return payload, fmt.Errorf("%w: contact card message requires metadata.user_id", ErrInvalidPayload)
		}
	case store.MessageSticker:
		if payload.Metadata == nil || payload.Metadata["sticker_id"] == nil || payload.Metadata["image_url"] == nil {
			return payload, fmt.Errorf("%w: sticker message requires metadata.sticker_id and metadata.image_url", ErrInvalidPayload)
		}
	case store.MessageForward:
		forwarded, ok := payload.Metadata["messages"].([]any)
		if payload.Metadata == nil || !ok || len(forwarded) == 0 {
			return payload, fmt.Errorf("%w: forward message requires a non-empty metadata.messages array", ErrInvalidPayload)
		}
	case store.MessageSystem:
		// No metadata required; the case exists so a system message's
		// validation is an explicit no-op rather than an implicit pass.
	}
	return payload, nil
}

// validateReplyTarget resolves a reply_to_message_id string, confirms the
// referenced message belongs to the same channel, and builds the truncated
// preview that travels with the commit (spec §4.H step 8).
func (p *Pipeline) validateReplyTarget(ctx context.Context, channelID uint64, replyToRaw string) (uint64, *wire.ReplyPreview, error) {
	var replyTo uint64
	if _, err := fmt.Sscanf(replyToRaw, "%d", &replyTo); err != nil {
		return 0, nil, fmt.Errorf("%w: malformed reply_to_message_id", ErrInvalidPayload)
	}
	target, err := p.messages.FindByID(ctx, replyTo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil, ErrReplyNotFound
		}
		return 0, nil, fmt.Errorf("message: reply lookup: %w", err)
	}
	if target.ChannelID != channelID {
		return 0, nil, ErrReplyNotFound
	}
	preview := &wire.ReplyPreview{
		MessageID:   target.MessageID,
		SenderID:    target.SenderID,
		Content:     truncate(target.Content, replyPreviewLen),
		MessageType: uint32(target.MessageType),
	}
	return replyTo, preview, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// mentionAllMarkers are the tokens that, unless the sender is Owner or
// Admin, make a send a rejected mention-all attempt (spec §4.H step 10).
var mentionAllMarkers = []string{"@all", "@everyone", "@全体成员"}

func containsMentionAll(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range mentionAllMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// resolveMentions rejects an unauthorized mention-all and otherwise
// filters the caller-supplied mention list down to actual channel
// participants; mentions of non-members are silently dropped.
func (p *Pipeline) resolveMentions(ctx context.Context, ch *store.Channel, senderRole store.Role, content string, candidateIDs []uint64) ([]uint64, error) {
	if containsMentionAll(content) && senderRole != store.RoleOwner && senderRole != store.RoleAdmin {
		return nil, ErrMentionAllDenied
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	members, err := p.channels2Participants(ctx, ch.ID)
	if err != nil {
		log.Printf("message: resolve mentions: list participants for channel %d: %v", ch.ID, err)
		return nil, nil
	}
	valid := make(map[uint64]bool, len(members))
	for _, m := range members {
		valid[m] = true
	}
	var out []uint64
	for _, uid := range candidateIDs {
		if valid[uid] {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (p *Pipeline) channels2Participants(ctx context.Context, channelID uint64) ([]uint64, error) {
	members, err := p.members.GetParticipants(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// commitWithRetry allocates a pts and commits the message, retrying once
// if a concurrent writer claimed the same pts first (a duplicate (channel,
// pts) key is the documented race; a fresh pts from the same generator
// resolves it).
func (p *Pipeline) commitWithRetry(ctx context.Context, req wire.SendMessageRequest, ch *store.Channel, payload wire.SendMessagePayload, replyTo *uint64) (*store.Message, error) {
	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		msgID, err := p.generator.NextMessageID()
		if err != nil {
			return nil, fmt.Errorf("message: allocate message id: %w", err)
		}
		pts, err := p.generator.NextPts(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("message: allocate pts: %w", err)
		}

		msg := &store.Message{
			MessageID:        msgID,
			ChannelID:        ch.ID,
			SenderID:         req.FromUID,
			Pts:              pts,
			LocalMessageID:   req.LocalMessageID,
			Content:          payload.Content,
			Metadata:         payload.Metadata,
			MessageType:      store.MessageType(req.MessageType),
			ReplyToMessageID: replyTo,
		}
		err = p.messages.Create(ctx, msg)
		if err == nil {
			return msg, nil
		}
		if errors.Is(err, store.ErrDuplicateMessage) {
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("message: commit: %w", err)
	}
	return nil, fmt.Errorf("message: commit: exhausted retries: %w", lastErr)
}

// fanOut delivers the committed message to every channel participant,
// including the sender (echo). A READY realtime session gets an immediate
// unicast and a MessageDelivered publish per device; everyone else (not
// READY, no live session, or a failed send) falls back to the offline
// queue. The sender's own echo is always fire-and-forget: a slow or
// failed echo never holds up fan-out to the rest of the channel, and it
// isn't queued offline since the sender already has the message from the
// send response itself.
func (p *Pipeline) fanOut(ctx context.Context, ch *store.Channel, msg *store.Message, mentioned []uint64, replyPreview *wire.ReplyPreview) {
	members, err := p.members.GetParticipants(ctx, ch.ID)
	if err != nil {
		log.Printf("message: fan out: list participants for channel %d: %v", ch.ID, err)
		return
	}

	push := wire.PushMessageRequest{
		ServerMessageID: msg.MessageID,
		MessageSeq:      msg.Pts,
		LocalMessageID:  msg.LocalMessageID,
		Timestamp:       msg.CreatedAt.Unix(),
		ChannelID:       ch.ID,
		ChannelType:     uint8(ch.ChannelType),
		MessageType:     uint32(msg.MessageType),
		FromUID:         msg.SenderID,
		Payload:         mustMarshal(msg.Content),
		ReplyPreview:    replyPreview,
	}
	packet, err := json.Marshal(push)
	if err != nil {
		log.Printf("message: fan out: encode push packet: %v", err)
		return
	}

	var recipients []uint64
	for _, m := range members {
		recipients = append(recipients, m.UserID)

		if m.UserID == msg.SenderID {
			go p.echoToSender(m.UserID, packet)
			continue
		}

		if !p.deliverRealtime(ctx, msg.MessageID, m.UserID, packet) && p.offline != nil {
			if qerr := p.offline.Enqueue(ctx, m.UserID, packet); qerr != nil {
				log.Printf("message: fan out: enqueue offline for user %d: %v", m.UserID, qerr)
			}
		}
	}

	if p.bus != nil {
		p.bus.PublishMessageCommitted(ctx, MessageCommittedEvent{
			Message:      msg,
			ChannelType:  ch.ChannelType,
			RecipientIDs: recipients,
			MentionedIDs: mentioned,
		})
	}
}

// echoToSender best-effort unicasts the sender's own committed message
// to every session the connection registry holds for the sender,
// including the one that sent it, without a READY check.
func (p *Pipeline) echoToSender(senderID uint64, packet []byte) {
	if p.connReg == nil {
		return
	}
	if _, err := p.connReg.SendPushToUser(context.Background(), senderID, packet); err != nil {
		log.Printf("message: fan out: echo to sender %d: %v", senderID, err)
	}
}

// deliverRealtime attempts a realtime unicast to every READY session
// userID currently has bound, publishing MessageDelivered per device that
// accepted it so the push planner cancels the matching FCM/APNs intent.
// It reports whether at least one READY session received the push; false
// tells the caller to fall back to the offline queue.
func (p *Pipeline) deliverRealtime(ctx context.Context, messageID, userID uint64, packet []byte) bool {
	if p.sessions == nil || p.connReg == nil {
		return false
	}
	delivered := false
	for _, sessionID := range p.sessions.ListUserSessions(userID) {
		if !p.sessions.IsReady(sessionID) {
			continue
		}
		if err := p.connReg.SendToSession(ctx, sessionID, packet); err != nil {
			continue
		}
		delivered = true
		if p.bus != nil {
			if info, ok := p.sessions.GetSessionInfo(sessionID); ok {
				p.bus.PublishMessageDelivered(ctx, messageID, userID, info.DeviceID)
			}
		}
	}
	return delivered
}

func mustMarshal(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return b
}

func (p *Pipeline) checkDedupMemory(senderID, localMessageID uint64) *store.Message {
	p.dedupMu.Lock()
	defer p.dedupMu.Unlock()
	key := dedupKey{senderID, localMessageID}
	e, ok := p.dedup[key]
	if !ok || time.Now().After(e.expires) {
		delete(p.dedup, key)
		return nil
	}
	return e.message
}

func (p *Pipeline) markDedup(senderID, localMessageID uint64, msg *store.Message) {
	p.dedupMu.Lock()
	defer p.dedupMu.Unlock()
	p.dedup[dedupKey{senderID, localMessageID}] = dedupEntry{message: msg, expires: time.Now().Add(dedupWindow)}
}

func (p *Pipeline) successResponse(req wire.SendMessageRequest, msg *store.Message) wire.SendMessageResponse {
	return wire.SendMessageResponse{
		ClientSeq:       req.ClientSeq,
		ServerMessageID: msg.MessageID,
		MessageSeq:      msg.Pts,
		ReasonCode:      wire.ReasonSuccess,
	}
}

// dedupResponse acknowledges a resend within the dedup window with a
// synthetic, zeroed ack rather than the original message's real IDs: the
// client already has those from the first response, and a resend is not a
// new commit (spec §8 "Send idempotence").
func (p *Pipeline) dedupResponse(req wire.SendMessageRequest) wire.SendMessageResponse {
	return wire.SendMessageResponse{
		ClientSeq:  req.ClientSeq,
		ReasonCode: wire.ReasonSuccess,
	}
}

func (p *Pipeline) failResponse(req wire.SendMessageRequest, code uint8, err error) wire.SendMessageResponse {
	return wire.SendMessageResponse{
		ClientSeq:     req.ClientSeq,
		ReasonCode:    code,
		ReasonMessage: err.Error(),
	}
}

// RevokeMessage implements the client-reachable revoke path (spec §4.H
// "Revoke/delete"): only the original sender may revoke, content and pts
// are retained with only the revoked flag set, and pending offline copies
// are best-effort scrubbed from every other participant's mailbox before
// the MessageRevoked event fires and cancels any still-pending push
// intent.
func (p *Pipeline) RevokeMessage(ctx context.Context, requesterID, messageID uint64) wire.RevokeMessageResponse {
	msg, err := p.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return wire.RevokeMessageResponse{ReasonCode: wire.ReasonChannelNotFound, ReasonMessage: "message not found"}
		}
		return wire.RevokeMessageResponse{ReasonCode: wire.ReasonStorageFailure, ReasonMessage: err.Error()}
	}
	if msg.SenderID != requesterID {
		return wire.RevokeMessageResponse{ReasonCode: wire.ReasonPermission, ReasonMessage: "only the sender may revoke this message"}
	}

	if err := p.messages.Revoke(ctx, messageID, requesterID); err != nil {
		return wire.RevokeMessageResponse{ReasonCode: wire.ReasonStorageFailure, ReasonMessage: err.Error()}
	}

	if p.offline != nil {
		if members, err := p.members.GetParticipants(ctx, msg.ChannelID); err == nil {
			for _, m := range members {
				if m.UserID == requesterID {
					continue
				}
				if qerr := p.offline.RemoveMessageByID(ctx, m.UserID, messageID); qerr != nil {
					log.Printf("message: revoke: scrub offline copy for user %d: %v", m.UserID, qerr)
				}
			}
		} else {
			log.Printf("message: revoke: list participants for channel %d: %v", msg.ChannelID, err)
		}
	}

	if p.bus != nil {
		p.bus.PublishMessageRevoked(ctx, messageID)
	}

	return wire.RevokeMessageResponse{Ack: true, ReasonCode: wire.ReasonSuccess}
}
