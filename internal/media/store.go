package media

import (
	"context"
	"io"
)

const (
	DriverGridFS     = "gridfs"
	DriverCloudinary = "cloudinary"
)

type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
	UploadedBy  string
	Folder      string // logical folder, e.g. posts or avatars
}

type Stored struct {
	StorageID string
	URL       string
	Size      int64
}

type FileInfo struct {
	FileName    string
	ContentType string
	Size        int64
}

// Store is a blob backend for user media.
type Store interface {
	Driver() string
	Put(ctx context.Context, up Upload) (*Stored, error)
	Open(ctx context.Context, storageID string) (io.ReadCloser, *FileInfo, error)
	Remove(ctx context.Context, storageID string) error
}
