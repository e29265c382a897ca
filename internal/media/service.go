package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

const (
	FolderPosts   = "posts"
	FolderStories = "stories"
	FolderAvatars = "avatars"
)

var errTooLarge = errors.New("upload exceeds size limit")

// Service validates uploads, stores them and records a MediaRef for each.
type Service struct {
	store    Store
	refs     RefRepository
	maxBytes int64
}

func NewService(store Store, refs RefRepository, maxBytes int64) *Service {
	return &Service{store: store, refs: refs, maxBytes: maxBytes}
}

func (s *Service) Upload(ctx context.Context, userID, folder, fileName string, body io.Reader) (*dbmysql.MediaRef, error) {
	fileType, mime, err := common.MediaTypeFromFileName(fileName)
	if err != nil {
		return nil, err
	}

	limited := &limitReader{r: body, remaining: s.maxBytes}
	stored, err := s.store.Put(ctx, Upload{
		FileName:    fileName,
		ContentType: mime,
		Body:        limited,
		UploadedBy:  userID,
		Folder:      folder,
	})
	if limited.exceeded || errors.Is(err, errTooLarge) {
		if stored != nil {
			_ = s.store.Remove(ctx, stored.StorageID)
		}
		return nil, common.Invalid("file exceeds %d MB limit", s.maxBytes>>20)
	}
	if err != nil {
		return nil, common.WrapError(common.ErrUnavailable, err, "media upload failed")
	}

	ref := &dbmysql.MediaRef{
		ID:          common.NewID(),
		StorageID:   stored.StorageID,
		Driver:      s.store.Driver(),
		Type:        fileType.String(),
		FileName:    fileName,
		ContentType: mime,
		URL:         stored.URL,
		Size:        stored.Size,
		UploadedBy:  userID,
	}
	if err := s.refs.Create(ctx, ref); err != nil {
		_ = s.store.Remove(ctx, stored.StorageID)
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{
		"media_id": ref.ID,
		"driver":   ref.Driver,
		"size":     ref.Size,
	}).Debug("media stored")
	return ref, nil
}

// Delete removes the blob then the ref. A blob that is already gone is not an error.
func (s *Service) Delete(ctx context.Context, refID string) error {
	ref, err := s.refs.ByID(ctx, refID)
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, ref.StorageID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("remove media %s: %w", ref.ID, err)
	}
	return s.refs.Delete(ctx, ref.ID)
}

type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// read one more byte to tell EOF from overflow
		var b [1]byte
		n, err := l.r.Read(b[:])
		if n > 0 {
			l.exceeded = true
			return 0, errTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
