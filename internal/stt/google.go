package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

const googleProviderName = "google-speech"

// GoogleProvider transcribes audio with the Google Cloud Speech-to-Text API.
// Authentication uses Application Default Credentials.
type GoogleProvider struct {
	client   *speech.Client
	language string
}

// NewGoogleProvider creates a Google Cloud Speech transcriber.
// An empty language defaults to "en-US".
func NewGoogleProvider(ctx context.Context, language string) (*GoogleProvider, error) {
	if language == "" {
		language = "en-US"
	}
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("stt: create google speech client: %w", err)
	}
	return &GoogleProvider{client: client, language: language}, nil
}

// Transcribe implements Transcriber. Uses synchronous recognition, which
// covers clips up to ~1 minute — the gateway's expected request size.
func (p *GoogleProvider) Transcribe(ctx context.Context, audio []byte, _ string) (Transcription, error) {
	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			// Encoding left unspecified: Google detects it from the file
			// header for WAV and FLAC uploads.
			LanguageCode: p.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return Transcription{}, &Error{Provider: googleProviderName, Message: err.Error()}
	}

	var parts []string
	var confidence float32
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		best := result.Alternatives[0]
		parts = append(parts, best.Transcript)
		if best.Confidence > confidence {
			confidence = best.Confidence
		}
	}

	return Transcription{
		Text:       strings.Join(parts, " "),
		Provider:   googleProviderName,
		Confidence: float64(confidence),
	}, nil
}

// Close releases the underlying gRPC connection.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}
