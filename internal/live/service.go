package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/dbmongo"
	"amplifi/internal/dbmysql"
	"amplifi/internal/metrics"
	"amplifi/internal/realtime"
)

const (
	PrivacyPublic    = "public"
	PrivacyFollowers = "followers"

	DefaultChatLimit = 50
	DefaultTimeout   = 5 * time.Minute
	// StaleAfter is how long a live stream may go without a creator heartbeat.
	StaleAfter = 12 * time.Hour

	maxTitleLength = 100
	maxChatLength  = 500
	maxTimeout     = 24 * time.Hour
	listLimit      = 50
	reapBatch      = 100
)

type ChatStore interface {
	Insert(ctx context.Context, msg *dbmongo.LiveChatMessage) error
	List(ctx context.Context, streamID string, cursor common.Cursor, limit int) ([]*dbmongo.LiveChatMessage, error)
	Count(ctx context.Context, streamID string) (int64, error)
}

type Viewers interface {
	Join(ctx context.Context, streamID, userID string) (int64, error)
	Leave(ctx context.Context, streamID, userID string) (int64, error)
	Count(ctx context.Context, streamID string) (int64, error)
	Unique(ctx context.Context, streamID string) (int64, error)
	Peak(ctx context.Context, streamID string) (int64, error)
	Sample(ctx context.Context, streamID string, count int64) error
	Average(ctx context.Context, streamID string) (float64, error)
	Clear(ctx context.Context, streamID string) error
}

type Timeouts interface {
	Set(ctx context.Context, streamID, userID string, d time.Duration) error
	Remaining(ctx context.Context, streamID, userID string) (time.Duration, error)
}

type Broadcaster interface {
	Broadcast(room string, f realtime.Frame)
}

type Users interface {
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
}

type FollowGraph interface {
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
}

// Room is the realtime room a stream's viewers subscribe to.
const RoomPrefix = "stream:"

func Room(streamID string) string { return RoomPrefix + streamID }

type NewStream struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Privacy     string `json:"privacy"`
	EnableChat  *bool  `json:"enableChat"`
	EnableTips  *bool  `json:"enableTips"`
}

type Timeout struct {
	StreamID string    `json:"streamId"`
	UserID   string    `json:"userId"`
	Until    time.Time `json:"until"`
}

type LiveService struct {
	streams  Streams
	chat     ChatStore
	viewers  Viewers
	timeouts Timeouts
	rooms    Broadcaster
	users    Users
	graph    FollowGraph
	notifier common.Notifier
	events   common.EventPublisher
	now      func() time.Time
}

func NewLiveService(
	streams Streams,
	chat ChatStore,
	viewers Viewers,
	timeouts Timeouts,
	rooms Broadcaster,
	users Users,
	graph FollowGraph,
	notifier common.Notifier,
	events common.EventPublisher,
) *LiveService {
	if notifier == nil {
		notifier = common.NopNotifier{}
	}
	return &LiveService{
		streams:  streams,
		chat:     chat,
		viewers:  viewers,
		timeouts: timeouts,
		rooms:    rooms,
		users:    users,
		graph:    graph,
		notifier: notifier,
		events:   events,
		now:      time.Now,
	}
}

// --------- LIFECYCLE ---------

func (s *LiveService) StartStream(ctx context.Context, creatorID string, in NewStream) (*dbmysql.LiveStream, error) {
	title := strings.TrimSpace(in.Title)
	if err := common.ValidateText("title", title, 1, maxTitleLength); err != nil {
		return nil, err
	}
	privacy := in.Privacy
	if privacy == "" {
		privacy = PrivacyPublic
	}
	if privacy != PrivacyPublic && privacy != PrivacyFollowers {
		return nil, common.Invalid("privacy must be public or followers")
	}

	existing, err := s.streams.LiveByCreator(ctx, creatorID)
	switch {
	case err == nil:
		return nil, common.NewError(common.ErrConflict, "you already have a live stream (%s)", existing.ID)
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	creator, err := s.users.GetUserByID(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stream := &dbmysql.LiveStream{
		ID:            common.NewID(),
		CreatorID:     creator.ID,
		LiveCreatorID: &creator.ID,
		CreatorName:   creator.DisplayName,
		Title:         title,
		Description:   strings.TrimSpace(in.Description),
		Category:      strings.ToLower(strings.TrimSpace(in.Category)),
		Privacy:       privacy,
		EnableChat:    in.EnableChat == nil || *in.EnableChat,
		EnableTips:    in.EnableTips == nil || *in.EnableTips,
		Status:        dbmysql.StreamStatusLive,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := s.streams.CreateStream(ctx, stream); err != nil {
		return nil, err
	}

	metrics.LiveStreams.Inc()
	s.publish(ctx, "stream.started", map[string]any{
		"streamId":  stream.ID,
		"creatorId": stream.CreatorID,
		"title":     stream.Title,
		"category":  stream.Category,
	})
	s.notifyFollowers(ctx, creator, stream)

	common.Log.WithFields(logrus.Fields{"stream_id": stream.ID, "creator_id": creatorID}).Info("stream started")
	return stream, nil
}

func (s *LiveService) notifyFollowers(ctx context.Context, creator *dbmysql.User, stream *dbmysql.LiveStream) {
	followers, err := s.graph.FollowerIDs(ctx, creator.ID)
	if err != nil {
		common.Log.WithError(err).Warn("stream started: load followers")
		return
	}
	name := creator.DisplayName
	if name == "" {
		name = creator.Username
	}
	for _, id := range followers {
		err := s.notifier.Notify(ctx, common.NotificationEvent{
			Type:          common.StreamStartedType,
			UserID:        id,
			TriggerUserID: &creator.ID,
			Header:        name + " is live",
			Content:       stream.Title,
			Priority:      3,
			Metadata:      common.NotificationMetadata{"streamId": stream.ID},
		})
		if err != nil {
			common.Log.WithError(err).WithField("user_id", id).Warn("stream started: notify follower")
		}
	}
}

// GetStream returns the stream with its current viewer count.
func (s *LiveService) GetStream(ctx context.Context, viewerID, streamID string) (*dbmysql.LiveStream, error) {
	stream, err := s.streams.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, viewerID, stream); err != nil {
		return nil, err
	}
	if stream.Status == dbmysql.StreamStatusLive {
		if n, err := s.viewers.Count(ctx, streamID); err == nil {
			stream.CurrentViewers = n
		}
	}
	return stream, nil
}

// AuthorizeRoom gates websocket subscriptions to a stream room with the same
// rules as watching the stream.
func (s *LiveService) AuthorizeRoom(ctx context.Context, userID, room string) error {
	stream, err := s.streams.GetStream(ctx, strings.TrimPrefix(room, RoomPrefix))
	if err != nil {
		return err
	}
	return s.canView(ctx, userID, stream)
}

func (s *LiveService) canView(ctx context.Context, viewerID string, stream *dbmysql.LiveStream) error {
	if stream.Privacy != PrivacyFollowers || viewerID == stream.CreatorID || common.IsAdmin(ctx) {
		return nil
	}
	if viewerID == "" {
		return common.NewError(common.ErrUnauthorized, "sign in to watch this stream")
	}
	ok, err := s.graph.IsFollowing(ctx, viewerID, stream.CreatorID)
	if err != nil {
		return err
	}
	if !ok {
		return common.Forbidden("this stream is for followers only")
	}
	return nil
}

func (s *LiveService) ListLive(ctx context.Context, category string) ([]*dbmysql.LiveStream, error) {
	streams, err := s.streams.ListLive(ctx, strings.ToLower(strings.TrimSpace(category)), listLimit)
	if err != nil {
		return nil, err
	}
	for _, st := range streams {
		if n, err := s.viewers.Count(ctx, st.ID); err == nil {
			st.CurrentViewers = n
		}
	}
	if streams == nil {
		streams = []*dbmysql.LiveStream{}
	}
	return streams, nil
}

// Heartbeat is sent by the creator's broadcaster; it keeps the stream out of
// the reaper and records a viewer sample.
func (s *LiveService) Heartbeat(ctx context.Context, creatorID, streamID string) error {
	stream, err := s.liveStream(ctx, streamID)
	if err != nil {
		return err
	}
	if stream.CreatorID != creatorID {
		return common.Forbidden("only the creator can send heartbeats")
	}
	if err := s.streams.Heartbeat(ctx, streamID, s.now()); err != nil {
		return err
	}
	n, err := s.viewers.Count(ctx, streamID)
	if err != nil {
		return err
	}
	return s.viewers.Sample(ctx, streamID, n)
}

func (s *LiveService) EndStream(ctx context.Context, requesterID, streamID string) (*dbmysql.LiveStream, error) {
	stream, err := s.streams.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.CreatorID != requesterID && !common.IsAdmin(ctx) {
		return nil, common.Forbidden("only the creator can end this stream")
	}
	if stream.Status != dbmysql.StreamStatusLive {
		return nil, common.NewError(common.ErrConflict, "stream already ended")
	}
	if err := s.finish(ctx, stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// finish computes the analytics, persists them and tells the room.
func (s *LiveService) finish(ctx context.Context, stream *dbmysql.LiveStream) error {
	now := s.now()
	var err error
	if stream.PeakViewers, err = s.viewers.Peak(ctx, stream.ID); err != nil {
		return err
	}
	if stream.TotalViewers, err = s.viewers.Unique(ctx, stream.ID); err != nil {
		return err
	}
	if stream.AvgViewers, err = s.viewers.Average(ctx, stream.ID); err != nil {
		return err
	}
	if stream.ChatCount, err = s.chat.Count(ctx, stream.ID); err != nil {
		return err
	}
	if stream.TotalTips, err = s.streams.TipTotal(ctx, stream.ID); err != nil {
		return err
	}
	stream.DurationSeconds = int64(now.Sub(stream.StartedAt).Seconds())
	stream.EndedAt = &now

	if err := s.streams.FinishStream(ctx, stream); err != nil {
		return err
	}
	stream.Status = dbmysql.StreamStatusEnded
	stream.LiveCreatorID = nil
	stream.CurrentViewers = 0

	if err := s.viewers.Clear(ctx, stream.ID); err != nil {
		common.Log.WithError(err).WithField("stream_id", stream.ID).Warn("clear viewer state")
	}
	metrics.LiveStreams.Dec()
	s.rooms.Broadcast(Room(stream.ID), realtime.NewFrame("stream_ended", stream))
	s.publish(ctx, "stream.ended", map[string]any{
		"streamId":        stream.ID,
		"creatorId":       stream.CreatorID,
		"durationSeconds": stream.DurationSeconds,
		"totalTips":       stream.TotalTips,
	})

	common.Log.WithFields(logrus.Fields{
		"stream_id":     stream.ID,
		"duration":      stream.DurationSeconds,
		"peak_viewers":  stream.PeakViewers,
		"total_viewers": stream.TotalViewers,
		"total_tips":    stream.TotalTips,
	}).Info("stream ended")
	return nil
}

// ReapStale ends streams whose creator stopped sending heartbeats.
func (s *LiveService) ReapStale(ctx context.Context) (int, error) {
	stale, err := s.streams.Stale(ctx, s.now().Add(-StaleAfter), reapBatch)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, st := range stale {
		if err := s.finish(ctx, st); err != nil {
			if errors.Is(err, common.ErrConflict) {
				continue
			}
			return ended, fmt.Errorf("reap stream %s: %w", st.ID, err)
		}
		ended++
	}
	return ended, nil
}

// --------- VIEWERS ---------

func (s *LiveService) JoinStream(ctx context.Context, userID, streamID string) (int64, error) {
	stream, err := s.liveStream(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if err := s.canView(ctx, userID, stream); err != nil {
		return 0, err
	}
	n, err := s.viewers.Join(ctx, streamID, userID)
	if err != nil {
		return 0, err
	}
	s.broadcastCount(streamID, n)
	return n, nil
}

func (s *LiveService) LeaveStream(ctx context.Context, userID, streamID string) (int64, error) {
	n, err := s.viewers.Leave(ctx, streamID, userID)
	if err != nil {
		return 0, err
	}
	s.broadcastCount(streamID, n)
	return n, nil
}

func (s *LiveService) ViewerCount(ctx context.Context, streamID string) (int64, error) {
	return s.viewers.Count(ctx, streamID)
}

func (s *LiveService) broadcastCount(streamID string, n int64) {
	s.rooms.Broadcast(Room(streamID), realtime.NewFrame("viewer_count", map[string]any{
		"streamId": streamID,
		"count":    n,
	}))
}

func (s *LiveService) liveStream(ctx context.Context, streamID string) (*dbmysql.LiveStream, error) {
	stream, err := s.streams.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.Status != dbmysql.StreamStatusLive {
		return nil, common.Invalid("stream has ended")
	}
	return stream, nil
}

// --------- CHAT ---------

func (s *LiveService) SendChat(ctx context.Context, userID, streamID, text string) (*dbmongo.LiveChatMessage, error) {
	text = strings.TrimSpace(text)
	if err := common.ValidateText("message", text, 1, maxChatLength); err != nil {
		return nil, err
	}
	stream, err := s.liveStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !stream.EnableChat {
		return nil, common.Forbidden("chat is disabled for this stream")
	}
	if err := s.canView(ctx, userID, stream); err != nil {
		return nil, err
	}
	left, err := s.timeouts.Remaining(ctx, streamID, userID)
	if err != nil {
		return nil, err
	}
	if left > 0 {
		return nil, common.Forbidden("you are timed out for %s", left.Round(time.Second))
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	msg := &dbmongo.LiveChatMessage{
		ID:        common.NewID(),
		StreamID:  streamID,
		UserID:    userID,
		Username:  user.Username,
		Text:      text,
		Type:      dbmongo.ChatTypeChat,
		CreatedAt: s.now(),
	}
	if err := s.chat.Insert(ctx, msg); err != nil {
		return nil, err
	}
	metrics.LiveChatMessages.Inc()
	s.rooms.Broadcast(Room(streamID), realtime.NewFrame("live_chat", msg))
	return msg, nil
}

// ListChat pages newest-first from the store and returns the page oldest-first.
func (s *LiveService) ListChat(ctx context.Context, viewerID, streamID string, req common.PageRequest) (common.Page[*dbmongo.LiveChatMessage], error) {
	stream, err := s.streams.GetStream(ctx, streamID)
	if err != nil {
		return common.Page[*dbmongo.LiveChatMessage]{}, err
	}
	if err := s.canView(ctx, viewerID, stream); err != nil {
		return common.Page[*dbmongo.LiveChatMessage]{}, err
	}
	cursor, err := common.DecodeCursor(req.Cursor)
	if err != nil {
		return common.Page[*dbmongo.LiveChatMessage]{}, err
	}
	limit := req.LimitOr(DefaultChatLimit)
	rows, err := s.chat.List(ctx, streamID, cursor, limit)
	if err != nil {
		return common.Page[*dbmongo.LiveChatMessage]{}, err
	}
	page := common.NewPage(rows, limit, func(m *dbmongo.LiveChatMessage) common.Cursor {
		return common.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	for i, j := 0, len(page.Items)-1; i < j; i, j = i+1, j-1 {
		page.Items[i], page.Items[j] = page.Items[j], page.Items[i]
	}
	return page, nil
}

// TimeoutUser mutes userID in the stream chat. Only the creator (or an admin)
// moderates.
func (s *LiveService) TimeoutUser(ctx context.Context, moderatorID, streamID, userID string, d time.Duration) (*Timeout, error) {
	stream, err := s.liveStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.CreatorID != moderatorID && !common.IsAdmin(ctx) {
		return nil, common.Forbidden("only the creator can time out viewers")
	}
	if userID == "" || userID == stream.CreatorID {
		return nil, common.Invalid("cannot time out this user")
	}
	if d <= 0 {
		d = DefaultTimeout
	}
	if d > maxTimeout {
		return nil, common.Invalid("timeout must be at most %s", maxTimeout)
	}
	if err := s.timeouts.Set(ctx, streamID, userID, d); err != nil {
		return nil, err
	}

	t := &Timeout{StreamID: streamID, UserID: userID, Until: s.now().Add(d)}
	s.rooms.Broadcast(Room(streamID), realtime.NewFrame("user_timeout", t))
	common.Log.WithFields(logrus.Fields{"stream_id": streamID, "user_id": userID, "duration": d}).Info("viewer timed out")
	return t, nil
}

// CheckTipTarget accepts a tip to toUserID only on their own live stream with
// tips enabled.
func (s *LiveService) CheckTipTarget(ctx context.Context, streamID, toUserID string) error {
	stream, err := s.liveStream(ctx, streamID)
	if err != nil {
		return err
	}
	if !stream.EnableTips {
		return common.Invalid("tips are disabled for this stream")
	}
	if stream.CreatorID != toUserID {
		return common.Invalid("tips on a stream go to its creator")
	}
	return nil
}

// RecordTip is called once a stream tip has been paid: it bumps the running
// total and posts a tip line into the chat.
func (s *LiveService) RecordTip(ctx context.Context, streamID, fromUserID string, amount int64, note string) error {
	if err := s.streams.CreditTip(ctx, streamID, amount); err != nil {
		return err
	}
	username := ""
	if u, err := s.users.GetUserByID(ctx, fromUserID); err == nil {
		username = u.Username
	}
	msg := &dbmongo.LiveChatMessage{
		ID:        common.NewID(),
		StreamID:  streamID,
		UserID:    fromUserID,
		Username:  username,
		Text:      note,
		Type:      dbmongo.ChatTypeTip,
		Amount:    amount,
		CreatedAt: s.now(),
	}
	if err := s.chat.Insert(ctx, msg); err != nil {
		return err
	}
	s.rooms.Broadcast(Room(streamID), realtime.NewFrame("live_tip", msg))
	return nil
}

func (s *LiveService) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		common.Log.WithError(err).WithField("subject", subject).Warn("publish event")
	}
}
