// Package enhance submits encoded tiles to a Gemini image model and returns
// the HD version the model draws back.
//
// Every call sends the same fixed instruction with the tile as inline PNG and
// takes the first inline image of the first candidate. There is no retry and
// no timeout at this layer; callers bound the call with their context.
package enhance

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/boxtvstar/ai-split-hd/internal/assets"
	"github.com/boxtvstar/ai-split-hd/internal/filehandler"
	"github.com/boxtvstar/ai-split-hd/internal/metrics"
)

// DefaultModel is the Gemini image model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image"

// Generator is the part of the genai Models service the client calls.
// *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client enhances tile images through a Generator.
type Client struct {
	gen         Generator
	model       string
	instruction string
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides DefaultModel. Empty values are ignored.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithInstruction replaces the embedded HD instruction.
func WithInstruction(instruction string) Option {
	return func(c *Client) {
		if instruction != "" {
			c.instruction = instruction
		}
	}
}

// New creates a Client. Pass genaiClient.Models as gen.
func New(gen Generator, opts ...Option) *Client {
	c := &Client{
		gen:         gen,
		model:       DefaultModel,
		instruction: assets.EnhanceHDPrompt(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model ID requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Enhance sends img to the model and returns the enhanced image as PNG.
//
// Errors: ErrEmptyImage for empty input, ErrEmptyResponse when there are no
// candidates, ErrNoImage when the first candidate has no decodable inline
// image, and
// *RemoteCallError for transport, auth, quota, or server failures.
func (c *Client) Enhance(ctx context.Context, img []byte) ([]byte, error) {
	if len(img) == 0 {
		return nil, ErrEmptyImage
	}

	mimeType := filehandler.DetectMIME(img)
	if mimeType == "application/octet-stream" {
		mimeType = filehandler.MIMETypePNG
	}

	log.Info().
		Str("model", c.model).
		Int("image_bytes", len(img)).
		Str("image_mime", mimeType).
		Msg("Sending tile to Gemini for enhancement")

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: img}},
			{Text: c.instruction},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	start := time.Now()
	resp, err := c.gen.GenerateContent(ctx, c.model, contents, config)
	elapsed := time.Since(start)

	if err != nil {
		classified := ClassifyError(err)
		kind := "canceled"
		if callErr, ok := classified.(*RemoteCallError); ok {
			kind = callErr.Kind.String()
		}
		recordResult(kind, elapsed, 0)
		log.Error().Err(err).Str("kind", kind).Dur("duration", elapsed).Msg("Gemini enhancement call failed")
		return nil, classified
	}

	if resp == nil || len(resp.Candidates) == 0 {
		recordResult("empty_response", elapsed, 0)
		log.Warn().Dur("duration", elapsed).Msg("Gemini returned no candidates")
		return nil, ErrEmptyResponse
	}

	data, text := firstInlineImage(resp.Candidates[0])
	if data == nil {
		recordResult("no_image", elapsed, 0)
		log.Warn().
			Str("text", truncateString(text, 200)).
			Dur("duration", elapsed).
			Msg("Gemini response contained no image")
		return nil, ErrNoImage
	}

	out, err := filehandler.NormalizePNG(data)
	if err != nil {
		recordResult("bad_image", elapsed, 0)
		log.Warn().Err(err).Dur("duration", elapsed).Msg("Gemini returned an undecodable image")
		return nil, fmt.Errorf("%w: %w", ErrNoImage, err)
	}

	recordResult("success", elapsed, len(out))
	log.Info().
		Int("output_bytes", len(out)).
		Dur("duration", elapsed).
		Msg("Gemini enhancement complete")

	return out, nil
}

// EnhanceDataURL accepts a data URL (or bare base64), strips the prefix before
// submission, and returns the result as a data:image/png;base64 URL.
func (c *Client) EnhanceDataURL(ctx context.Context, dataURL string) (string, error) {
	_, img, err := filehandler.FromDataURL(dataURL)
	if err != nil {
		return "", fmt.Errorf("enhance: %w", err)
	}
	out, err := c.Enhance(ctx, img)
	if err != nil {
		return "", err
	}
	return filehandler.ToDataURL(filehandler.MIMETypePNG, out), nil
}

// firstInlineImage returns the first inline image part of a candidate plus
// any text the model sent alongside it.
func firstInlineImage(candidate *genai.Candidate) ([]byte, string) {
	if candidate == nil || candidate.Content == nil {
		return nil, ""
	}
	var text string
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, text
		}
		text += part.Text
	}
	return nil, text
}

func recordResult(result string, elapsed time.Duration, outputBytes int) {
	rec := metrics.New("AiSplitHD").
		Dimension("Operation", "enhance").
		Dimension("Result", result).
		Metric("EnhanceMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("EnhanceCalls")
	if outputBytes > 0 {
		rec.Metric("EnhanceOutputBytes", float64(outputBytes), metrics.UnitBytes)
	}
	rec.Flush()
}

// truncateString truncates a string to at most maxLen bytes without splitting
// a rune, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
