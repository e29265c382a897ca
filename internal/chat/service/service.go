package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/chat/repository"
	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/metrics"
	"amplifi/internal/realtime"
)

const (
	DefaultMessageLimit = 50
	maxMessageLimit     = 100
	maxMessageLength    = 2000
	conversationLimit   = 50
	minGroupMembers     = 2
)

// ChatService defines the interface exposed to the handler layer.
type ChatService interface {
	StartConversation(ctx context.Context, userID, otherID string) (*dbmysql.Conversation, error)
	CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*dbmysql.Conversation, error)
	AddParticipant(ctx context.Context, requesterID, conversationID, userID string) error
	LeaveConversation(ctx context.Context, userID, conversationID string) error
	ListConversations(ctx context.Context, userID string) ([]*dbmysql.Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*dbmysql.Conversation, error)

	SendMessage(ctx context.Context, conversationID, senderID, text string, replyToID *string) (*dbmysql.Message, error)
	SendPaidMessage(ctx context.Context, conversationID, senderID, recipientID, text string) (*PaidMessage, error)
	ConfirmPaidMessage(ctx context.Context, paymentIntentID string, succeeded bool) error
	ListMessages(ctx context.Context, userID, conversationID string, req common.PageRequest) (common.Page[*dbmysql.Message], error)
	EditMessage(ctx context.Context, userID, messageID, text string) (*dbmysql.Message, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
	MarkRead(ctx context.Context, conversationID, userID string) ([]string, error)

	RegisterFrames(router FrameRouter)
	FixParticipants(ctx context.Context) (int, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
}

// Charge is a payment intent created for a paid message.
type Charge struct {
	IntentID     string
	ClientSecret string
}

// MessageCharger creates the payment intent behind a paid message.
type MessageCharger interface {
	ChargeMessage(ctx context.Context, senderID, recipientID, conversationID string, amount int64) (*Charge, error)
}

// Pusher delivers realtime frames to connected users.
type Pusher interface {
	SendToUsers(userIDs []string, f realtime.Frame)
}

type FrameRouter interface {
	Handle(frameType string, fn realtime.FrameHandler)
}

type PaidMessage struct {
	Message      *dbmysql.Message `json:"message"`
	ClientSecret string           `json:"clientSecret"`
}

type chatService struct {
	repo     repository.ChatRepository
	users    UserLookup
	charger  MessageCharger
	pusher   Pusher
	notifier common.Notifier
	now      func() time.Time
}

// NewChatService wires the chat service. charger may be nil, which disables paid messages.
func NewChatService(repo repository.ChatRepository, users UserLookup, charger MessageCharger, pusher Pusher, notifier common.Notifier) ChatService {
	if notifier == nil {
		notifier = common.NopNotifier{}
	}
	return &chatService{
		repo:     repo,
		users:    users,
		charger:  charger,
		pusher:   pusher,
		notifier: notifier,
		now:      time.Now,
	}
}

// DirectKey identifies the 1:1 conversation between two users regardless of order.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// --------- CONVERSATIONS ---------

func (s *chatService) StartConversation(ctx context.Context, userID, otherID string) (*dbmysql.Conversation, error) {
	if otherID == "" || otherID == userID {
		return nil, common.Invalid("pick someone else to message")
	}
	if _, err := s.users.GetUserByID(ctx, otherID); err != nil {
		return nil, err
	}

	key := DirectKey(userID, otherID)
	conv, err := s.repo.ConversationByDirectKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	conv = &dbmysql.Conversation{
		ID:        common.NewID(),
		CreatedBy: userID,
		DirectKey: &key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.repo.CreateConversation(ctx, conv, []string{userID, otherID})
	if errors.Is(err, common.ErrConflict) {
		// lost a race with the other user starting the same conversation
		return s.repo.ConversationByDirectKey(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	s.push([]string{userID, otherID}, "conversation_created", conv)
	return conv, nil
}

func (s *chatService) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*dbmysql.Conversation, error) {
	name = strings.TrimSpace(name)
	if err := common.ValidateText("group name", name, 1, 100); err != nil {
		return nil, err
	}

	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.users.GetUserByID(ctx, id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	if len(members)-1 < minGroupMembers {
		return nil, common.Invalid("a group needs at least %d other members", minGroupMembers)
	}

	now := s.now()
	conv := &dbmysql.Conversation{
		ID:        common.NewID(),
		IsGroup:   true,
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateConversation(ctx, conv, members); err != nil {
		return nil, err
	}
	s.push(members, "conversation_created", conv)
	return conv, nil
}

func (s *chatService) AddParticipant(ctx context.Context, requesterID, conversationID, userID string) error {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return common.Invalid("participants can only be added to groups")
	}
	if err := s.requireParticipant(ctx, conversationID, requesterID); err != nil {
		return err
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.AddParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	s.pushToConversation(ctx, conversationID, "participant_added", map[string]string{
		"conversationId": conversationID, "userId": userID, "addedBy": requesterID,
	})
	return nil
}

func (s *chatService) LeaveConversation(ctx context.Context, userID, conversationID string) error {
	if err := s.repo.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	s.pushToConversation(ctx, conversationID, "participant_left", map[string]string{
		"conversationId": conversationID, "userId": userID,
	})
	return nil
}

func (s *chatService) ListConversations(ctx context.Context, userID string) ([]*dbmysql.Conversation, error) {
	convs, err := s.repo.ListConversations(ctx, userID, conversationLimit)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []*dbmysql.Conversation{}
	}
	return convs, nil
}

func (s *chatService) GetConversation(ctx context.Context, userID, conversationID string) (*dbmysql.Conversation, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetConversation(ctx, conversationID)
}

func (s *chatService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.Forbidden("not a participant of this conversation")
	}
	return nil
}

// --------- MESSAGES ---------

func (s *chatService) SendMessage(ctx context.Context, conversationID, senderID, text string, replyToID *string) (*dbmysql.Message, error) {
	if err := common.ValidateText("message", text, 1, maxMessageLength); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, conversationID, senderID); err != nil {
		return nil, err
	}
	if replyToID != nil && *replyToID != "" {
		parent, err := s.repo.GetMessage(ctx, *replyToID)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != conversationID {
			return nil, common.Invalid("reply target is in another conversation")
		}
	} else {
		replyToID = nil
	}

	msg := s.newMessage(conversationID, senderID, text)
	msg.ReplyToID = replyToID
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues("false").Inc()

	others := s.deliver(ctx, msg)
	s.notifyMessage(ctx, msg, others, text)
	return msg, nil
}

func (s *chatService) SendPaidMessage(ctx context.Context, conversationID, senderID, recipientID, text string) (*PaidMessage, error) {
	if s.charger == nil {
		return nil, common.NewError(common.ErrUnavailable, "paid messages are not available")
	}
	if err := common.ValidateText("message", text, 1, maxMessageLength); err != nil {
		return nil, err
	}
	if senderID == recipientID {
		return nil, common.Invalid("cannot send a paid message to yourself")
	}
	if err := s.requireParticipant(ctx, conversationID, senderID); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, conversationID, recipientID); err != nil {
		if errors.Is(err, common.ErrForbidden) {
			return nil, common.Invalid("recipient is not in this conversation")
		}
		return nil, err
	}
	recipient, err := s.users.GetUserByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if recipient.MessagePrice <= 0 {
		return nil, common.Invalid("%s does not accept paid messages", recipient.Username)
	}

	charge, err := s.charger.ChargeMessage(ctx, senderID, recipientID, conversationID, recipient.MessagePrice)
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(conversationID, senderID, text)
	msg.Paid = true
	msg.RecipientID = &recipientID
	msg.Amount = recipient.MessagePrice
	msg.PaymentIntentID = charge.IntentID
	msg.Status = dbmysql.MessageStatusPendingPayment
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues("true").Inc()

	// the recipient sees it once the payment clears
	s.push([]string{senderID}, "new_message", msg)
	common.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"intent_id":       charge.IntentID,
		"amount":          msg.Amount,
	}).Info("paid message awaiting payment")
	return &PaidMessage{Message: msg, ClientSecret: charge.ClientSecret}, nil
}

// ConfirmPaidMessage settles a paid message once its payment intent resolves.
func (s *chatService) ConfirmPaidMessage(ctx context.Context, paymentIntentID string, succeeded bool) error {
	status := dbmysql.MessageStatusPaymentFailed
	if succeeded {
		status = dbmysql.MessageStatusSent
	}
	msg, err := s.repo.SetPaymentStatus(ctx, paymentIntentID, status)
	if errors.Is(err, common.ErrConflict) {
		common.Log.WithField("intent_id", paymentIntentID).Debug("paid message already settled")
		return nil
	}
	if err != nil {
		return err
	}
	if !succeeded {
		s.push([]string{msg.SenderID}, "message_updated", msg)
		return nil
	}
	others := s.deliver(ctx, msg)
	s.notifyMessage(ctx, msg, others, fmt.Sprintf("Paid message ($%.2f): %s", float64(msg.Amount)/100, msg.Text))
	return nil
}

func (s *chatService) newMessage(conversationID, senderID, text string) *dbmysql.Message {
	now := s.now()
	return &dbmysql.Message{
		ID:             common.NewID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           strings.TrimSpace(text),
		Status:         dbmysql.MessageStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ListMessages pages newest-first and returns each page in display order.
func (s *chatService) ListMessages(ctx context.Context, userID, conversationID string, req common.PageRequest) (common.Page[*dbmysql.Message], error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return common.Page[*dbmysql.Message]{}, err
	}
	cursor, err := common.DecodeCursor(req.Cursor)
	if err != nil {
		return common.Page[*dbmysql.Message]{}, err
	}
	limit := req.LimitOr(DefaultMessageLimit)
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	rows, err := s.repo.ListMessages(ctx, conversationID, userID, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Message]{}, err
	}
	rows = visibleTo(rows, userID)
	page := common.NewPage(rows, limit, func(m *dbmysql.Message) common.Cursor {
		return common.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	sort.SliceStable(page.Items, func(i, j int) bool {
		a, b := page.Items[i], page.Items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return page, nil
}

// visibleTo drops unpaid messages sent by anyone but the viewer.
func visibleTo(msgs []*dbmysql.Message, viewerID string) []*dbmysql.Message {
	out := msgs[:0]
	for _, m := range msgs {
		unpaid := m.Status == dbmysql.MessageStatusPendingPayment || m.Status == dbmysql.MessageStatusPaymentFailed
		if unpaid && m.SenderID != viewerID {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *chatService) EditMessage(ctx context.Context, userID, messageID, text string) (*dbmysql.Message, error) {
	if err := common.ValidateText("message", text, 1, maxMessageLength); err != nil {
		return nil, err
	}
	msg, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	msg.Text = strings.TrimSpace(text)
	msg.EditedAt = &now
	msg.UpdatedAt = now
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.deliverFrame(ctx, msg, "message_updated")
	return msg, nil
}

// DeleteMessage soft-deletes: the row stays so replies keep their target.
func (s *chatService) DeleteMessage(ctx context.Context, userID, messageID string) error {
	msg, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}
	msg.Deleted = true
	msg.Text = ""
	msg.UpdatedAt = s.now()
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return err
	}
	s.deliverFrame(ctx, msg, "message_deleted")
	return nil
}

func (s *chatService) ownMessage(ctx context.Context, userID, messageID string) (*dbmysql.Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, common.Forbidden("only the sender can change this message")
	}
	if msg.Deleted {
		return nil, common.NotFound("message")
	}
	return msg, nil
}

func (s *chatService) MarkRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	ids, err := s.repo.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.pushToConversation(ctx, conversationID, "message_read", map[string]any{
			"conversationId": conversationID,
			"userId":         userID,
			"messageIds":     ids,
		})
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *chatService) FixParticipants(ctx context.Context) (int, error) {
	n, err := s.repo.FixParticipants(ctx)
	if err != nil {
		return 0, err
	}
	common.Log.WithField("repaired", n).Info("conversation participants repaired")
	return n, nil
}

// --------- REALTIME ---------

type typingPayload struct {
	ConversationID string `json:"conversationId"`
}

// RegisterFrames hooks typing indicators and read receipts into the websocket hub.
func (s *chatService) RegisterFrames(router FrameRouter) {
	for _, typ := range []string{"typing_start", "typing_end"} {
		frameType := typ
		router.Handle(frameType, func(ctx context.Context, userID string, payload json.RawMessage) {
			var p typingPayload
			if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
				return
			}
			ids, err := s.participantsIfMember(ctx, p.ConversationID, userID)
			if err != nil {
				return
			}
			s.push(without(ids, userID), frameType, map[string]any{
				"conversationId": p.ConversationID,
				"userId":         userID,
				"timestamp":      s.now().Unix(),
			})
		})
	}
	router.Handle("message_read", func(ctx context.Context, userID string, payload json.RawMessage) {
		var p typingPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
			return
		}
		if _, err := s.MarkRead(ctx, p.ConversationID, userID); err != nil {
			common.Log.WithError(err).WithField("user_id", userID).Debug("read receipt rejected")
		}
	})
}

func (s *chatService) participantsIfMember(ctx context.Context, conversationID, userID string) ([]string, error) {
	ids, err := s.repo.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == userID {
			return ids, nil
		}
	}
	return nil, common.Forbidden("not a participant")
}

func (s *chatService) deliver(ctx context.Context, msg *dbmysql.Message) []string {
	return s.deliverFrame(ctx, msg, "new_message")
}

// deliverFrame pushes msg to every participant and returns the ones other than the sender.
func (s *chatService) deliverFrame(ctx context.Context, msg *dbmysql.Message, frameType string) []string {
	if len(visibleTo([]*dbmysql.Message{msg}, "")) == 0 {
		s.push([]string{msg.SenderID}, frameType, msg)
		return nil
	}
	ids, err := s.repo.ParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		common.Log.WithError(err).WithField("conversation_id", msg.ConversationID).Warn("participant lookup failed")
		return nil
	}
	s.push(ids, frameType, msg)
	return without(ids, msg.SenderID)
}

func (s *chatService) pushToConversation(ctx context.Context, conversationID, frameType string, payload any) {
	ids, err := s.repo.ParticipantIDs(ctx, conversationID)
	if err != nil {
		common.Log.WithError(err).WithField("conversation_id", conversationID).Warn("participant lookup failed")
		return
	}
	s.push(ids, frameType, payload)
}

func (s *chatService) push(userIDs []string, frameType string, payload any) {
	if s.pusher == nil || len(userIDs) == 0 {
		return
	}
	s.pusher.SendToUsers(userIDs, realtime.NewFrame(frameType, payload))
}

func (s *chatService) notifyMessage(ctx context.Context, msg *dbmysql.Message, recipients []string, text string) {
	header := "New message"
	if sender, err := s.users.GetUserByID(ctx, msg.SenderID); err == nil {
		header = "Message from " + sender.DisplayName
	}
	for _, id := range recipients {
		err := s.notifier.Notify(ctx, common.NotificationEvent{
			Type:          common.MessageType,
			UserID:        id,
			TriggerUserID: &msg.SenderID,
			Header:        header,
			Content:       truncate(text, 100),
			Priority:      3,
			Metadata:      common.NotificationMetadata{"conversationId": msg.ConversationID, "messageId": msg.ID},
		})
		if err != nil {
			common.Log.WithError(err).WithField("user_id", id).Warn("message notification failed")
		}
	}
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
