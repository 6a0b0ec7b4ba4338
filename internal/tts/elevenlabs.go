package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/loqalabs/loqa-guide/internal/config"
)

type elevenLabsProvider struct {
	endpoint string
	apiKey   string
	voiceID  string
	modelID  string
	format   string
	settings voiceSettings
	client   *http.Client
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// NewElevenLabsProvider calls the ElevenLabs text-to-speech REST endpoint
// with the voice tuning from cfg.
func NewElevenLabsProvider(cfg config.TTSConfig, client *http.Client) Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &elevenLabsProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		voiceID:  cfg.VoiceID,
		modelID:  cfg.ModelID,
		format:   cfg.OutputFormat,
		settings: voiceSettings{
			Stability:       cfg.Stability,
			SimilarityBoost: cfg.SimilarityBoost,
			Style:           cfg.Style,
			UseSpeakerBoost: cfg.UseSpeakerBoost,
			Speed:           cfg.Speed,
		},
		client: client,
	}
}

func (p *elevenLabsProvider) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: p.modelID, VoiceSettings: p.settings})
	if err != nil {
		return nil, err
	}
	target := fmt.Sprintf("%s/v1/text-to-speech/%s", p.endpoint, url.PathEscape(p.voiceID))
	if p.format != "" {
		target += "?output_format=" + url.QueryEscape(p.format)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs returned status %s: %s", resp.Status, bytes.TrimSpace(detail))
	}
	return resp.Body, nil
}
