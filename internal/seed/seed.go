// Package seed loads development fixtures. Every task can run repeatedly.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/chat/service"
	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/feed"
)

type Users interface {
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
	CreateUser(ctx context.Context, user *dbmysql.User) error
}

type Posts interface {
	GetPost(ctx context.Context, id string) (*dbmysql.Post, error)
	CreatePost(ctx context.Context, post *dbmysql.Post) error
}

type Conversations interface {
	ConversationByDirectKey(ctx context.Context, key string) (*dbmysql.Conversation, error)
	CreateConversation(ctx context.Context, conv *dbmysql.Conversation, participantIDs []string) error
	FixParticipants(ctx context.Context) (int, error)
}

// Report counts what a run created. Existing rows are left untouched.
type Report struct {
	Users             int `json:"users"`
	Posts             int `json:"posts"`
	Conversations     int `json:"conversations"`
	ParticipantsFixed int `json:"participantsFixed"`
}

type Seeder struct {
	users Users
	posts Posts
	chats Conversations
	now   func() time.Time
}

func NewSeeder(users Users, posts Posts, chats Conversations) *Seeder {
	return &Seeder{users: users, posts: posts, chats: chats, now: time.Now}
}

// FakeUsers are the two accounts the fake conversation connects.
func FakeUsers() []*dbmysql.User {
	return []*dbmysql.User{
		{ID: "test-user-1", Email: "testuser1@example.com", Username: "testuser1", DisplayName: "Test User 1", ProfilePic: "default-avatar.svg", Status: "active"},
		{ID: "test-user-2", Email: "testuser2@example.com", Username: "testuser2", DisplayName: "Test User 2", ProfilePic: "default-avatar.svg", Status: "active"},
	}
}

func (s *Seeder) Run(ctx context.Context) (*Report, error) {
	var r Report
	var err error
	if r.Users, err = s.SeedUsers(ctx); err != nil {
		return nil, err
	}
	if r.Posts, err = s.SeedPosts(ctx); err != nil {
		return nil, err
	}
	if r.Conversations, err = s.SeedConversation(ctx); err != nil {
		return nil, err
	}
	if r.ParticipantsFixed, err = s.chats.FixParticipants(ctx); err != nil {
		return nil, fmt.Errorf("fix participants: %w", err)
	}
	common.Log.WithFields(logrus.Fields{
		"users":         r.Users,
		"posts":         r.Posts,
		"conversations": r.Conversations,
		"participants":  r.ParticipantsFixed,
	}).Info("Seed finished")
	return &r, nil
}

func (s *Seeder) SeedUsers(ctx context.Context) (int, error) {
	created := 0
	for _, u := range FakeUsers() {
		_, err := s.users.GetUserByID(ctx, u.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, common.ErrNotFound) {
			return created, fmt.Errorf("lookup user %s: %w", u.ID, err)
		}
		err = s.users.CreateUser(ctx, u)
		if errors.Is(err, common.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create user %s: %w", u.ID, err)
		}
		created++
	}
	return created, nil
}

// SeedPosts stores the sample feed as real rows so it survives the first
// user post. The seeded rows keep their Sample flag.
func (s *Seeder) SeedPosts(ctx context.Context) (int, error) {
	created := 0
	for _, p := range feed.SamplePosts(s.now()) {
		_, err := s.posts.GetPost(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, common.ErrNotFound) {
			return created, fmt.Errorf("lookup post %s: %w", p.ID, err)
		}
		if err := s.posts.CreatePost(ctx, p); err != nil {
			return created, fmt.Errorf("create post %s: %w", p.ID, err)
		}
		created++
	}
	return created, nil
}

func (s *Seeder) SeedConversation(ctx context.Context) (int, error) {
	users := FakeUsers()
	a, b := users[0].ID, users[1].ID
	key := service.DirectKey(a, b)

	_, err := s.chats.ConversationByDirectKey(ctx, key)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return 0, fmt.Errorf("lookup conversation: %w", err)
	}

	now := s.now()
	conv := &dbmysql.Conversation{
		ID:            "test-conversation-2way",
		CreatedBy:     a,
		DirectKey:     &key,
		LastMessageAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.chats.CreateConversation(ctx, conv, []string{a, b})
	if errors.Is(err, common.ErrConflict) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}
