package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// ChatRepository stores conversations, participants, messages and read receipts.
type ChatRepository interface {
	CreateConversation(ctx context.Context, conv *dbmysql.Conversation, participantIDs []string) error
	ConversationByDirectKey(ctx context.Context, key string) (*dbmysql.Conversation, error)
	GetConversation(ctx context.Context, id string) (*dbmysql.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*dbmysql.Conversation, error)

	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error

	SaveMessage(ctx context.Context, msg *dbmysql.Message) error
	GetMessage(ctx context.Context, id string) (*dbmysql.Message, error)
	UpdateMessage(ctx context.Context, msg *dbmysql.Message) error
	ListMessages(ctx context.Context, conversationID, viewerID string, cursor common.Cursor, limit int) ([]*dbmysql.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) ([]string, error)
	SetPaymentStatus(ctx context.Context, paymentIntentID, status string) (*dbmysql.Message, error)

	FixParticipants(ctx context.Context) (int, error)
}

type chatRepo struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepo{db: db}
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func (r *chatRepo) CreateConversation(ctx context.Context, conv *dbmysql.Conversation, participantIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(conv).Error; err != nil {
			return err
		}
		rows := make([]dbmysql.ConversationParticipant, 0, len(participantIDs))
		for _, id := range participantIDs {
			rows = append(rows, dbmysql.ConversationParticipant{ConversationID: conv.ID, UserID: id})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}
		conv.Participants = rows
		return nil
	})
	if isDuplicate(err) {
		return common.NewError(common.ErrConflict, "conversation already exists")
	}
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (r *chatRepo) ConversationByDirectKey(ctx context.Context, key string) (*dbmysql.Conversation, error) {
	var conv dbmysql.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").Where("direct_key = ?", key).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("conversation by key: %w", err)
	}
	return &conv, nil
}

func (r *chatRepo) GetConversation(ctx context.Context, id string) (*dbmysql.Conversation, error) {
	var conv dbmysql.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations orders by last activity; conversations without messages
// sort by creation time after the active ones.
func (r *chatRepo) ListConversations(ctx context.Context, userID string, limit int) ([]*dbmysql.Conversation, error) {
	var convs []*dbmysql.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id AND cp.user_id = ?", userID).
		Order("conversations.last_message_at IS NULL").
		Order("conversations.last_message_at DESC").
		Order("conversations.created_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	var unread []struct {
		ConversationID string
		N              int64
	}
	err = r.db.WithContext(ctx).Model(&dbmysql.Message{}).
		Select("messages.conversation_id, COUNT(*) AS n").
		Joins("LEFT JOIN message_reads mr ON mr.message_id = messages.id AND mr.user_id = ?", userID).
		Where("messages.conversation_id IN ? AND messages.sender_id <> ? AND mr.message_id IS NULL AND messages.deleted = ? AND messages.status = ?",
			ids, userID, false, dbmysql.MessageStatusSent).
		Group("messages.conversation_id").
		Scan(&unread).Error
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	counts := make(map[string]int64, len(unread))
	for _, u := range unread {
		counts[u.ConversationID] = u.N
	}
	for _, c := range convs {
		c.UnreadCount = counts[c.ID]
	}
	return convs, nil
}

func (r *chatRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&dbmysql.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("is participant: %w", err)
	}
	return n > 0, nil
}

func (r *chatRepo) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&dbmysql.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("participant ids: %w", err)
	}
	return ids, nil
}

func (r *chatRepo) AddParticipant(ctx context.Context, conversationID, userID string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&dbmysql.ConversationParticipant{ConversationID: conversationID, UserID: userID}).Error
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (r *chatRepo) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	res := r.db.WithContext(ctx).Delete(&dbmysql.ConversationParticipant{}, "conversation_id = ? AND user_id = ?", conversationID, userID)
	if res.Error != nil {
		return fmt.Errorf("remove participant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NotFound("participant")
	}
	return nil
}

// SaveMessage stores msg and marks it read by its sender in one transaction.
// A sent message also becomes the conversation's last message.
func (r *chatRepo) SaveMessage(ctx context.Context, msg *dbmysql.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Create(&dbmysql.MessageRead{MessageID: msg.ID, UserID: msg.SenderID}).Error; err != nil {
			return err
		}
		if msg.Status != dbmysql.MessageStatusSent {
			return nil
		}
		return bumpLastMessage(tx, msg.ConversationID, msg.Text, msg.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	msg.ReadBy = []string{msg.SenderID}
	return nil
}

func bumpLastMessage(tx *gorm.DB, conversationID, text string, at time.Time) error {
	return tx.Model(&dbmysql.Conversation{}).Where("id = ?", conversationID).Updates(map[string]any{
		"last_message":    preview(text),
		"last_message_at": at,
	}).Error
}

// visibleTo limits messages to sent ones plus the viewer's own unpaid drafts.
func visibleTo(viewerID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(messages.status = ? OR messages.sender_id = ?)", dbmysql.MessageStatusSent, viewerID)
	}
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > 250 {
		return string(r[:250])
	}
	return text
}

func (r *chatRepo) GetMessage(ctx context.Context, id string) (*dbmysql.Message, error) {
	var msg dbmysql.Message
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("message")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (r *chatRepo) UpdateMessage(ctx context.Context, msg *dbmysql.Message) error {
	err := r.db.WithContext(ctx).Model(msg).Select("text", "edited_at", "deleted", "updated_at").Updates(msg).Error
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit+1 messages, newest first, with ReadBy filled in.
func (r *chatRepo) ListMessages(ctx context.Context, conversationID, viewerID string, cursor common.Cursor, limit int) ([]*dbmysql.Message, error) {
	var msgs []*dbmysql.Message
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Scopes(dbmysql.Newest("", cursor, limit)).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	var reads []dbmysql.MessageRead
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Order("read_at").Find(&reads).Error; err != nil {
		return nil, fmt.Errorf("read receipts: %w", err)
	}
	readBy := make(map[string][]string, len(msgs))
	for _, rd := range reads {
		readBy[rd.MessageID] = append(readBy[rd.MessageID], rd.UserID)
	}
	for _, m := range msgs {
		m.ReadBy = readBy[m.ID]
		if m.ReadBy == nil {
			m.ReadBy = []string{}
		}
	}
	return msgs, nil
}

func (r *chatRepo) MarkRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&dbmysql.Message{}).
			Joins("LEFT JOIN message_reads mr ON mr.message_id = messages.id AND mr.user_id = ?", userID).
			Where("messages.conversation_id = ? AND messages.sender_id <> ? AND mr.message_id IS NULL AND messages.status = ?",
				conversationID, userID, dbmysql.MessageStatusSent).
			Pluck("messages.id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		now := time.Now()
		rows := make([]dbmysql.MessageRead, len(ids))
		for i, id := range ids {
			rows[i] = dbmysql.MessageRead{MessageID: id, UserID: userID, ReadAt: now}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return ids, nil
}

var errAlreadySettled = errors.New("message payment already settled")

// SetPaymentStatus settles a paid message. A failed payment may still
// succeed later; a sent message is final.
func (r *chatRepo) SetPaymentStatus(ctx context.Context, paymentIntentID, status string) (*dbmysql.Message, error) {
	var msg dbmysql.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_intent_id = ?", paymentIntentID).First(&msg).Error
		if err != nil {
			return err
		}
		if msg.Status == status || msg.Status == dbmysql.MessageStatusSent {
			return errAlreadySettled
		}
		msg.Status = status
		if err := tx.Model(&msg).Update("status", status).Error; err != nil {
			return err
		}
		if status != dbmysql.MessageStatusSent {
			return nil
		}
		return bumpLastMessage(tx, msg.ConversationID, msg.Text, time.Now())
	})
	if errors.Is(err, errAlreadySettled) {
		return nil, common.NewError(common.ErrConflict, "message payment already settled")
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFound("message")
	}
	if err != nil {
		return nil, fmt.Errorf("set message payment status: %w", err)
	}
	return &msg, nil
}

// FixParticipants adds a participant row for every sender that lost theirs.
func (r *chatRepo) FixParticipants(ctx context.Context) (int, error) {
	var missing []dbmysql.ConversationParticipant
	err := r.db.WithContext(ctx).Model(&dbmysql.Message{}).
		Distinct("messages.conversation_id", "messages.sender_id AS user_id").
		Joins("LEFT JOIN conversation_participants cp ON cp.conversation_id = messages.conversation_id AND cp.user_id = messages.sender_id").
		Where("cp.user_id IS NULL").
		Scan(&missing).Error
	if err != nil {
		return 0, fmt.Errorf("find missing participants: %w", err)
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&missing).Error; err != nil {
		return 0, fmt.Errorf("repair participants: %w", err)
	}
	return len(missing), nil
}
