package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/peerly-app/peerly/server/social/chat"
	"github.com/peerly-app/peerly/server/social/presence"
)

// ChatHandlers wires the conversation message types into the chat
// channel and pushes results to the online participants.
type ChatHandlers struct {
	ch     *chat.Channel
	pm     *presence.Manager
	logger *zap.Logger
}

// NewChatHandlers creates the chat WS handlers.
func NewChatHandlers(ch *chat.Channel, pm *presence.Manager, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{ch: ch, pm: pm, logger: logger}
}

// RegisterAll binds every chat message type on the router.
func (h *ChatHandlers) RegisterAll(r *Router) {
	r.On("chat_send", h.HandleSend)
	r.On("chat_edit", h.HandleEdit)
	r.On("chat_delete", h.HandleDelete)
	r.On("chat_react", h.HandleReact)
	r.On("chat_seen", h.HandleSeen)
}

// sendError pushes an error packet back to the acting session. Handler
// errors are client mistakes, not server failures, so they do not
// bubble up to the dispatcher.
func (h *ChatHandlers) sendError(s *presence.Session, msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	s.Send(&presence.Packet{Type: "error", Payload: payload})
}

// pushToPair delivers a packet to both participants if online.
func (h *ChatHandlers) pushToPair(a, b int64, pkt *presence.Packet) {
	h.pm.SendTo(a, pkt)
	h.pm.SendTo(b, pkt)
}

type chatSendReq struct {
	To   int64  `json:"to"`
	Text string `json:"text"`
}

// HandleSend processes a chat_send message and pushes chat_recv to both
// participants.
func (h *ChatHandlers) HandleSend(ctx context.Context, s *presence.Session, raw json.RawMessage) error {
	var req chatSendReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	view, err := h.ch.Send(ctx, s.UserID, req.To, req.Text)
	if err != nil {
		h.sendError(s, err.Error())
		return nil
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	h.pushToPair(s.UserID, req.To, &presence.Packet{Type: "chat_recv", Payload: payload})
	return nil
}

type chatUpdate struct {
	Kind      string `json:"kind"`
	MessageID int64  `json:"message_id"`
	ActorID   int64  `json:"actor_id"`
	PeerID    int64  `json:"peer_id"`
}

func (h *ChatHandlers) pushUpdate(s *presence.Session, peerID int64, kind string, msgID int64) {
	payload, _ := json.Marshal(chatUpdate{
		Kind:      kind,
		MessageID: msgID,
		ActorID:   s.UserID,
		PeerID:    peerID,
	})
	h.pushToPair(s.UserID, peerID, &presence.Packet{Type: "chat_update", Payload: payload})
}

type chatEditReq struct {
	To        int64  `json:"to"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// HandleEdit processes a chat_edit message.
func (h *ChatHandlers) HandleEdit(ctx context.Context, s *presence.Session, raw json.RawMessage) error {
	var req chatEditReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if err := h.ch.Edit(ctx, s.UserID, req.MessageID, req.Text); err != nil {
		h.sendError(s, err.Error())
		return nil
	}
	h.pushUpdate(s, req.To, "edit", req.MessageID)
	return nil
}

type chatDeleteReq struct {
	To        int64 `json:"to"`
	MessageID int64 `json:"message_id"`
}

// HandleDelete processes a chat_delete message (soft delete).
func (h *ChatHandlers) HandleDelete(ctx context.Context, s *presence.Session, raw json.RawMessage) error {
	var req chatDeleteReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if err := h.ch.SoftDelete(ctx, s.UserID, req.MessageID); err != nil {
		h.sendError(s, err.Error())
		return nil
	}
	h.pushUpdate(s, req.To, "delete", req.MessageID)
	return nil
}

type chatReactReq struct {
	To        int64  `json:"to"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// HandleReact processes a chat_react message.
func (h *ChatHandlers) HandleReact(ctx context.Context, s *presence.Session, raw json.RawMessage) error {
	var req chatReactReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if err := h.ch.React(ctx, s.UserID, req.MessageID, req.Emoji); err != nil {
		h.sendError(s, err.Error())
		return nil
	}
	h.pushUpdate(s, req.To, "react", req.MessageID)
	return nil
}

type chatSeenReq struct {
	From int64 `json:"from"`
}

// HandleSeen processes a chat_seen message: flags everything the peer
// sent as read.
func (h *ChatHandlers) HandleSeen(ctx context.Context, s *presence.Session, raw json.RawMessage) error {
	var req chatSeenReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if err := h.ch.MarkSeen(ctx, s.UserID, req.From); err != nil {
		h.logger.Warn("mark seen failed",
			zap.Int64("user_id", s.UserID),
			zap.Int64("from", req.From),
			zap.Error(err))
		return nil
	}
	h.pushUpdate(s, req.From, "seen", 0)
	return nil
}
