package telegram

import "context"

// NoOpUploader discards uploads and returns a dummy handle. It is useful for
// running the pipeline locally without a real bot token; documents are
// marked sent without leaving the host.
type NoOpUploader struct{}

// SendDocument for NoOpUploader does nothing and returns a dummy file id.
func (n *NoOpUploader) SendDocument(_ context.Context, _ string, _ string) (string, error) {
	return "noop-file-id", nil
}
