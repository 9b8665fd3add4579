package supervisor

import (
	"context"
	"time"

	"github.com/sai-cam/agentd/internal/upload"
)

// uploadWorker drains s.uploadCh FIFO and delivers each item through the
// upload client, grounded on the teacher's single upload-worker goroutine
// shape. When --local-save is active (s.uploadOff), the worker does not
// drain the channel at all: src/camera_service.py's disable_upload() makes
// the upload loop return without touching the queue, so items simply
// accumulate against the channel's fixed 1000-item capacity and producers
// (CameraInstance.onCaptureSuccess) block once it fills, rather than
// losing frames silently.
func (s *Supervisor) uploadWorker(ctx context.Context) {
	for {
		if s.uploadOff.Get() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case item := <-s.uploadCh:
			s.deliverItem(ctx, item)
		}
	}
}

func (s *Supervisor) deliverItem(ctx context.Context, item upload.Item) {
	deliverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.uploadCli.Deliver(deliverCtx, item); err != nil {
		s.logger.Warn("upload failed, item stays pending", "camera_id", item.SourceCameraID, "key", item.Key, "error", err)
		return
	}
	if err := s.storageM.MarkUploaded(item.Key); err != nil {
		s.logger.Warn("mark uploaded failed", "key", item.Key, "error", err)
	}
}
