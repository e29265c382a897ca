package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"amplifi/internal/common"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

type cloudinaryAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// CloudinaryStore pushes media to Cloudinary; files are served from its CDN so
// Open is not supported.
type CloudinaryStore struct {
	api    cloudinaryAPI
	folder string
}

func NewCloudinaryStore(cloudinaryURL, folder string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &CloudinaryStore{api: &cld.Upload, folder: folder}, nil
}

func (s *CloudinaryStore) Driver() string { return DriverCloudinary }

func (s *CloudinaryStore) Put(ctx context.Context, up Upload) (*Stored, error) {
	params := uploader.UploadParams{
		Folder:       path.Join(s.folder, up.Folder),
		ResourceType: "auto",
	}
	if up.Folder == "avatars" {
		params.PublicID = up.UploadedBy
		params.Transformation = "c_limit,w_400,h_400,q_auto"
	}

	res, err := s.api.Upload(ctx, up.Body, params)
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload: %s", res.Error.Message)
	}
	return &Stored{
		StorageID: resourcePrefix(res.ResourceType) + res.PublicID,
		URL:       res.SecureURL,
		Size:      int64(res.Bytes),
	}, nil
}

func (s *CloudinaryStore) Open(context.Context, string) (io.ReadCloser, *FileInfo, error) {
	return nil, nil, common.NewError(common.ErrNotFound, "media is served by the CDN")
}

func (s *CloudinaryStore) Remove(ctx context.Context, storageID string) error {
	resourceType, publicID := splitResource(storageID)
	res, err := s.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID, ResourceType: resourceType})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", res.Error.Message)
	}
	return nil
}

// Destroy needs the resource type, so it is kept in the storage id as "video:".
func resourcePrefix(resourceType string) string {
	if resourceType == "" || resourceType == "image" {
		return ""
	}
	return resourceType + ":"
}

func splitResource(storageID string) (string, string) {
	if rt, id, ok := strings.Cut(storageID, ":"); ok {
		return rt, id
	}
	return "image", storageID
}
