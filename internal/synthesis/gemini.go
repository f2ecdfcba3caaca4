package synthesis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voice_gateway/internal/keypool"
	"voice_gateway/internal/models"
	"voice_gateway/internal/utils"
)

const maxErrorBody = 2048

// GeminiClient calls the generateContent endpoint with audio output enabled.
type GeminiClient struct {
	baseURL string
	model   string
	clients *ClientPool
	logger  *utils.Logger
}

// NewGeminiClient creates a client for model under baseURL
func NewGeminiClient(baseURL, model string, clients *ClientPool) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		clients: clients,
		logger:  utils.NewLogger("gemini"),
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	SpeechConfig       geminiSpeechConfig `json:"speechConfig"`
}

type geminiSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
}

func newGeminiRequest(req Request) geminiRequest {
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Text}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	body.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = req.Voice
	return body
}

// Synthesize performs one call with key. Every error returned is an *UpstreamError.
func (c *GeminiClient) Synthesize(ctx context.Context, key *models.UpstreamKey, req Request) (*RawAudio, error) {
	payload, err := json.Marshal(newGeminiRequest(req))
	if err != nil {
		return nil, &UpstreamError{Kind: keypool.FailureMalformed, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &UpstreamError{Kind: keypool.FailureTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", key.Secret)

	resp, err := c.clients.Get(key.ID).Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &UpstreamError{Kind: keypool.FailureTimeout, Err: err}
		}
		c.clients.Invalidate(key.ID)
		return nil, &UpstreamError{Kind: keypool.FailureTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{
			Kind:       keypool.FailureQuota,
			StatusCode: resp.StatusCode,
			Err:        errors.New("quota exceeded"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			Kind:       keypool.FailureUpstream,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(snippet))),
		}
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &UpstreamError{Kind: keypool.FailureTimeout, Err: err}
		}
		return nil, &UpstreamError{Kind: keypool.FailureMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return extractAudio(&decoded)
}

func extractAudio(resp *geminiResponse) (*RawAudio, error) {
	malformed := func(msg string) error {
		return &UpstreamError{Kind: keypool.FailureMalformed, StatusCode: http.StatusOK, Err: errors.New(msg)}
	}

	if len(resp.Candidates) == 0 {
		return nil, malformed("response has no candidates")
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil, malformed("response has no content parts")
	}
	inline := content.Parts[0].InlineData
	if inline == nil || inline.Data == "" {
		return nil, malformed("response has no audio data")
	}

	pcm, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, &UpstreamError{Kind: keypool.FailureMalformed, StatusCode: http.StatusOK, Err: fmt.Errorf("failed to decode audio: %w", err)}
	}
	if len(pcm) == 0 {
		return nil, malformed("audio payload is empty")
	}

	return &RawAudio{PCM: pcm, MimeType: inline.MimeType}, nil
}
