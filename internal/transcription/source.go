package transcription

import "context"

// FrameSource yields base64 PCM16 frames of fixed duration.
// The channel is closed when the source ends.
type FrameSource interface {
	Frames() <-chan string
}

// Pump forwards frames from src to the user's upstream until src ends,
// ctx is done, or a send fails.
func (m *Manager) Pump(ctx context.Context, user string, src FrameSource) error {
	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := m.AppendAudio(user, f); err != nil {
				return err
			}
		}
	}
}
