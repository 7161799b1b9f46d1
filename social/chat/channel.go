package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/peerly-app/peerly/server/cache"
	"github.com/peerly-app/peerly/server/config"
	"github.com/peerly-app/peerly/server/model"
	"github.com/peerly-app/peerly/server/social/relationship"
)

var (
	ErrEmptyMessage    = errors.New("chat: empty message")
	ErrTooLong         = errors.New("chat: message too long")
	ErrBlockedByYou    = errors.New("chat: you have blocked this user")
	ErrBlockedByPeer   = errors.New("chat: this user has blocked you")
	ErrNotConnected    = errors.New("chat: no connection or request with this user")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrNotSender       = errors.New("chat: only the sender may do this")
	ErrNotParticipant  = errors.New("chat: not a participant")
	ErrDeleted         = errors.New("chat: message was deleted")
)

// PairKey returns the canonical cache/pubsub key for an unordered pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%d:%d", a, b)
}

func unreadKey(userID int64) string {
	return fmt.Sprintf("unread:%d", userID)
}

func convosKey(userID int64) string {
	return fmt.Sprintf("convos:%d", userID)
}

const (
	recentKeyPrefix = "recent:"
	discoverActiveZ = "discover:active"
	EventSend       = "send"
	EventEdit       = "edit"
	EventDelete     = "delete"
	EventReact      = "react"
	EventSeen       = "seen"
	EventClear      = "clear"
)

// Event is the pubsub payload published on a pair channel after every
// mutation. Subscribers refetch the full list rather than applying the
// event, so the payload only needs to say that something changed.
type Event struct {
	Type      string `json:"type"`
	ActorID   int64  `json:"actor_id"`
	MessageID int64  `json:"message_id,omitempty"`
}

// Channel is the per-pair message service. Every operation resolves the
// relationship state fresh before touching messages; a blocked pair
// reads as empty and rejects sends.
type Channel struct {
	db     *gorm.DB
	cache  cache.Cache
	pubsub cache.PubSub
	rel    *relationship.Service
	cfg    config.SocialConfig
	logger *zap.Logger
}

func NewChannel(db *gorm.DB, c cache.Cache, ps cache.PubSub, rel *relationship.Service, cfg config.SocialConfig, logger *zap.Logger) *Channel {
	return &Channel{db: db, cache: c, pubsub: ps, rel: rel, cfg: cfg, logger: logger}
}

// View is the client-facing shape of a message. Soft-deleted messages
// keep their row but the text never leaves the server.
type View struct {
	ID         int64             `json:"id"`
	SenderID   int64             `json:"sender_id"`
	ReceiverID int64             `json:"receiver_id"`
	Text       string            `json:"text"`
	CreatedAt  time.Time         `json:"created_at"`
	Seen       bool              `json:"seen"`
	Reactions  map[string]string `json:"reactions,omitempty"`
	IsDeleted  bool              `json:"is_deleted"`
	Edited     bool              `json:"edited"`
}

func toView(m *model.Message) View {
	v := View{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
		Seen:       m.Seen,
		IsDeleted:  m.IsDeleted,
		Edited:     m.Edited,
	}
	if m.IsDeleted {
		v.Text = ""
	}
	if len(m.Reactions) > 0 {
		_ = json.Unmarshal(m.Reactions, &v.Reactions)
	}
	return v
}

func blockErr(state relationship.State) error {
	switch state {
	case relationship.StateBlockedByMe:
		return ErrBlockedByYou
	case relationship.StateBlockedByThem, relationship.StateMutuallyBlocked:
		return ErrBlockedByPeer
	default:
		return nil
	}
}

// Send writes a new message. The state check happens before any write:
// a blocked sender gets the direction-specific error, and strangers are
// turned away until a request links the pair. Pending pairs may message,
// so a request can carry an introduction.
func (ch *Channel) Send(ctx context.Context, meID, otherID int64, text string) (View, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return View{}, ErrEmptyMessage
	}
	if ch.cfg.MaxMessageLen > 0 && len([]rune(text)) > ch.cfg.MaxMessageLen {
		return View{}, ErrTooLong
	}
	state, err := ch.rel.StateBetween(ctx, meID, otherID)
	if err != nil {
		return View{}, err
	}
	if err := blockErr(state); err != nil {
		return View{}, err
	}
	if state == relationship.StateStrangers {
		return View{}, ErrNotConnected
	}

	msg := model.Message{SenderID: meID, ReceiverID: otherID, Text: text}
	if err := ch.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return View{}, err
	}

	view := toView(&msg)
	ch.cacheAfterSend(ctx, &msg, view)
	ch.publish(ctx, meID, otherID, Event{Type: EventSend, ActorID: meID, MessageID: msg.ID})
	return view, nil
}

// cacheAfterSend updates the unread counter, conversation sets, the
// last-active ranking and the recent-message list. All best-effort.
func (ch *Channel) cacheAfterSend(ctx context.Context, msg *model.Message, view View) {
	senderField := strconv.FormatInt(msg.SenderID, 10)
	key := unreadKey(msg.ReceiverID)
	n := 0
	if cur, err := ch.cache.HGet(ctx, key, senderField); err == nil {
		n, _ = strconv.Atoi(cur)
	}
	if err := ch.cache.HSet(ctx, key, senderField, strconv.Itoa(n+1)); err != nil {
		ch.logger.Warn("unread counter update failed", zap.Error(err))
	}

	pk := PairKey(msg.SenderID, msg.ReceiverID)
	_ = ch.cache.SAdd(ctx, convosKey(msg.SenderID), pk)
	_ = ch.cache.SAdd(ctx, convosKey(msg.ReceiverID), pk)
	_ = ch.cache.ZAdd(ctx, discoverActiveZ, float64(time.Now().UnixMilli()), senderField)

	if raw, err := json.Marshal(view); err == nil {
		recentKey := recentKeyPrefix + pk
		_ = ch.cache.LPush(ctx, recentKey, string(raw))
		if ch.cfg.RecentCacheSize > 0 {
			_ = ch.cache.LTrim(ctx, recentKey, 0, int64(ch.cfg.RecentCacheSize)-1)
		}
	}
}

func (ch *Channel) publish(ctx context.Context, a, b int64, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := ch.pubsub.Publish(ctx, PairKey(a, b), string(raw)); err != nil {
		ch.logger.Warn("pair publish failed", zap.String("pair", PairKey(a, b)), zap.Error(err))
	}
}

// History returns the visible message list for the pair, ordered by
// CreatedAt with the row ID breaking ties. Any blocked component makes
// the list empty no matter what is stored.
func (ch *Channel) History(ctx context.Context, meID, otherID int64) ([]View, error) {
	state, err := ch.rel.StateBetween(ctx, meID, otherID)
	if err != nil {
		return nil, err
	}
	if state.Blocked() {
		return []View{}, nil
	}
	var rows []model.Message
	err = ch.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			meID, otherID, otherID, meID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(rows))
	for i := range rows {
		views = append(views, toView(&rows[i]))
	}
	return views, nil
}

// MarkSeen flips every unseen message addressed to me in the pair. Seen
// status is not safety-critical so callers treat failures as non-fatal.
func (ch *Channel) MarkSeen(ctx context.Context, meID, otherID int64) error {
	res := ch.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND seen = ?", meID, otherID, false).
		Update("seen", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		if err := ch.cache.HDel(ctx, unreadKey(meID), strconv.FormatInt(otherID, 10)); err != nil {
			ch.logger.Warn("unread counter clear failed", zap.Error(err))
		}
		ch.publish(ctx, meID, otherID, Event{Type: EventSeen, ActorID: meID})
	}
	return nil
}

// UnreadCounts returns sender ID → unread count for me, from the cache.
func (ch *Channel) UnreadCounts(ctx context.Context, meID int64) (map[int64]int, error) {
	fields, err := ch.cache.HGetAll(ctx, unreadKey(meID))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(fields))
	for f, v := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		n, _ := strconv.Atoi(v)
		out[id] = n
	}
	return out, nil
}

func (ch *Channel) loadOwn(ctx context.Context, meID, msgID int64) (*model.Message, error) {
	var msg model.Message
	err := ch.db.WithContext(ctx).First(&msg, msgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if msg.SenderID != meID {
		return nil, ErrNotSender
	}
	return &msg, nil
}

// Edit replaces the text of my own, not soft-deleted, message.
func (ch *Channel) Edit(ctx context.Context, meID, msgID int64, newText string) error {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return ErrEmptyMessage
	}
	if ch.cfg.MaxMessageLen > 0 && len([]rune(newText)) > ch.cfg.MaxMessageLen {
		return ErrTooLong
	}
	msg, err := ch.loadOwn(ctx, meID, msgID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return ErrDeleted
	}
	err = ch.db.WithContext(ctx).Model(msg).
		Updates(map[string]any{"text": newText, "edited": true}).Error
	if err != nil {
		return err
	}
	ch.publish(ctx, msg.SenderID, msg.ReceiverID, Event{Type: EventEdit, ActorID: meID, MessageID: msgID})
	return nil
}

// SoftDelete hides my own message. The text stays in the row but is
// redacted from every read from now on.
func (ch *Channel) SoftDelete(ctx context.Context, meID, msgID int64) error {
	msg, err := ch.loadOwn(ctx, meID, msgID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if err := ch.db.WithContext(ctx).Model(msg).Update("is_deleted", true).Error; err != nil {
		return err
	}
	ch.publish(ctx, msg.SenderID, msg.ReceiverID, Event{Type: EventDelete, ActorID: meID, MessageID: msgID})
	return nil
}

// React upserts my reaction on a message in one of my conversations. One
// emoji per reactor; a second reaction overwrites the first. Whether a
// blocked pair may still react is a config decision.
func (ch *Channel) React(ctx context.Context, meID, msgID int64, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ErrEmptyMessage
	}
	var msg model.Message
	err := ch.db.WithContext(ctx).First(&msg, msgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if msg.SenderID != meID && msg.ReceiverID != meID {
		return ErrNotParticipant
	}
	if msg.IsDeleted {
		return ErrDeleted
	}
	if !ch.cfg.AllowReactWhenBlocked {
		otherID := msg.SenderID
		if otherID == meID {
			otherID = msg.ReceiverID
		}
		state, err := ch.rel.StateBetween(ctx, meID, otherID)
		if err != nil {
			return err
		}
		if err := blockErr(state); err != nil {
			return err
		}
	}

	reactions := map[string]string{}
	if len(msg.Reactions) > 0 {
		_ = json.Unmarshal(msg.Reactions, &reactions)
	}
	reactions[strconv.FormatInt(meID, 10)] = emoji
	raw, err := json.Marshal(reactions)
	if err != nil {
		return err
	}
	err = ch.db.WithContext(ctx).Model(&msg).
		Update("reactions", datatypes.JSON(raw)).Error
	if err != nil {
		return err
	}
	ch.publish(ctx, msg.SenderID, msg.ReceiverID, Event{Type: EventReact, ActorID: meID, MessageID: msgID})
	return nil
}

// ClearHistory hard-deletes every message for the pair, both directions,
// and drops the pair's cached state. No undo.
func (ch *Channel) ClearHistory(ctx context.Context, meID, otherID int64) error {
	err := ch.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			meID, otherID, otherID, meID).
		Delete(&model.Message{}).Error
	if err != nil {
		return err
	}
	pk := PairKey(meID, otherID)
	_ = ch.cache.Del(ctx, recentKeyPrefix+pk)
	_ = ch.cache.HDel(ctx, unreadKey(meID), strconv.FormatInt(otherID, 10))
	_ = ch.cache.HDel(ctx, unreadKey(otherID), strconv.FormatInt(meID, 10))
	ch.publish(ctx, meID, otherID, Event{Type: EventClear, ActorID: meID})
	return nil
}

// Recent returns the cached most-recent messages for the pair, newest
// first. Empty on cache miss; callers fall back to History.
func (ch *Channel) Recent(ctx context.Context, meID, otherID int64) ([]View, error) {
	state, err := ch.rel.StateBetween(ctx, meID, otherID)
	if err != nil {
		return nil, err
	}
	if state.Blocked() {
		return []View{}, nil
	}
	raws, err := ch.cache.LRange(ctx, recentKeyPrefix+PairKey(meID, otherID), 0, -1)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(raws))
	for _, raw := range raws {
		var v View
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		if v.IsDeleted {
			v.Text = ""
		}
		views = append(views, v)
	}
	return views, nil
}
