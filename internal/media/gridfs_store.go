package media

import (
	"context"
	"fmt"
	"io"

	"amplifi/internal/dbmongo"
)

type gridStorage interface {
	UploadFile(ctx context.Context, filename, mimeType, uploaderID string, content io.Reader) (*dbmongo.MediaFile, error)
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, *dbmongo.MediaFile, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// GridFSStore keeps media in MongoDB and serves it through the /media/{id} route.
type GridFSStore struct {
	storage gridStorage
	baseURL string
}

func NewGridFSStore(storage gridStorage, baseURL string) *GridFSStore {
	return &GridFSStore{storage: storage, baseURL: baseURL}
}

func (s *GridFSStore) Driver() string { return DriverGridFS }

func (s *GridFSStore) Put(ctx context.Context, up Upload) (*Stored, error) {
	file, err := s.storage.UploadFile(ctx, up.FileName, up.ContentType, up.UploadedBy, up.Body)
	if err != nil {
		return nil, fmt.Errorf("gridfs put: %w", err)
	}
	return &Stored{
		StorageID: file.ID,
		URL:       s.baseURL + file.ID,
		Size:      file.Size,
	}, nil
}

func (s *GridFSStore) Open(ctx context.Context, storageID string) (io.ReadCloser, *FileInfo, error) {
	rc, file, err := s.storage.DownloadFile(ctx, storageID)
	if err != nil {
		return nil, nil, err
	}
	return rc, &FileInfo{FileName: file.Filename, ContentType: file.ContentType, Size: file.Size}, nil
}

func (s *GridFSStore) Remove(ctx context.Context, storageID string) error {
	return s.storage.DeleteFile(ctx, storageID)
}
