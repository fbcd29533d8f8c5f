package app

import (
	"context"

	directentity "github.com/vadim/neo-inbox/internal/domain/direct/entity"
	directservice "github.com/vadim/neo-inbox/internal/domain/direct/service"
	notificationservice "github.com/vadim/neo-inbox/internal/domain/notification/service"
	"github.com/vadim/neo-inbox/internal/storage"
)

// blobStoreAdapter adapts storage.S3Storage to directservice.BlobStore
type blobStoreAdapter struct {
	storage *storage.S3Storage
}

func (a *blobStoreAdapter) Upload(ctx context.Context, ownerID string, file directservice.MediaFile) (*directservice.UploadedMedia, error) {
	out, err := a.storage.Upload(ctx, storage.UploadInput{
		OwnerID:     ownerID,
		Reader:      file.Reader,
		ContentType: file.ContentType,
		Size:        file.Size,
		Filename:    file.Filename,
	})
	if err != nil {
		return nil, err
	}
	return &directservice.UploadedMedia{Key: out.Key, URL: out.URL}, nil
}

func (a *blobStoreAdapter) Delete(ctx context.Context, key string) error {
	return a.storage.Delete(ctx, key)
}

// messageNotifierAdapter adapts the notification service to directservice.Notifier
type messageNotifierAdapter struct {
	notifications *notificationservice.Service
}

func (a *messageNotifierAdapter) NotifyMessage(ctx context.Context, msg directentity.Message, senderName string) error {
	_, err := a.notifications.NotifyMessage(ctx, notificationservice.MessageEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     senderName,
		ReceiverID:     msg.ReceiverID,
		Preview:        msg.Preview(),
	})
	return err
}
