// Package transcription keeps one upstream realtime transcription
// websocket per user and relays frames in both directions.
package transcription

import (
	"time"

	"github.com/dkeye/callrelay/internal/config"
)

// Options configures upstream sessions. Zero timeouts fall back to defaults;
// a zero SettleDelay sends the session config as soon as the upstream opens.
type Options struct {
	URL            string
	APIKey         string
	ConnectTimeout time.Duration
	SettleDelay    time.Duration
	WriteTimeout   time.Duration
	Session        SessionConfig
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// OptionsFrom maps the transcription config section.
func OptionsFrom(c config.TranscriptionConfig) Options {
	return Options{
		URL:            c.URL,
		APIKey:         c.APIKey,
		ConnectTimeout: c.ConnectTimeout,
		SettleDelay:    c.SettleDelay,
		WriteTimeout:   c.WriteTimeout,
		Session: SessionConfig{
			Modalities:       []string{"text"},
			Instructions:     c.Instructions,
			InputAudioFormat: c.AudioFormat,
			InputAudioTranscription: InputAudioTranscription{
				Model: c.Model,
			},
			TurnDetection: TurnDetection{
				Type:              "server_vad",
				Threshold:         c.VAD.Threshold,
				PrefixPaddingMs:   c.VAD.PrefixPaddingMs,
				SilenceDurationMs: c.VAD.SilenceDurationMs,
			},
		},
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}
