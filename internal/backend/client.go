// Package backend talks to the auxiliary REST collaborators that score,
// coach and persist rehearsal sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/metrics"
)

// Config controls the REST client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements ports.Backend over plain HTTP. Every call carries the
// scenario identity so the collaborators can key their state per user and
// scenario.
type Client struct {
	baseURL  string
	http     *http.Client
	scenario domain.Scenario
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewClient(cfg Config, scenario domain.Scenario, m *metrics.Metrics, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		scenario: scenario,
		metrics:  m,
		log:      log,
	}
}

// FetchChats loads the prior conversation state for this user and scenario.
func (c *Client) FetchChats(ctx context.Context) (domain.ChatHistory, error) {
	form := c.identity()

	var payload struct {
		Messages    []string `json:"messages"`
		BotResponse string   `json:"bot_response"`
		Elapsed     string   `json:"elapsed_time"`
	}
	if err := c.postForm(ctx, "show_chat", form, &payload); err != nil {
		return domain.ChatHistory{}, err
	}
	return domain.ChatHistory{
		Messages:    payload.Messages,
		BotResponse: payload.BotResponse,
		Elapsed:     payload.Elapsed,
	}, nil
}

// FetchTips requests coaching advice for the last user message.
func (c *Client) FetchTips(ctx context.Context, lastMessage string) (domain.Tips, error) {
	form := c.identity()
	form.Set("message", lastMessage)

	var payload struct {
		Tip   string `json:"tip"`
		Emoji string `json:"emoji"`
	}
	if err := c.postForm(ctx, "get_tips", form, &payload); err != nil {
		return domain.Tips{}, err
	}
	return domain.Tips{Tip: payload.Tip, Emoji: payload.Emoji}, nil
}

// SubmitTime records the elapsed session time.
func (c *Client) SubmitTime(ctx context.Context, elapsed time.Duration) error {
	form := c.identity()
	form.Set("time", strconv.Itoa(int(elapsed.Seconds())))
	return c.postForm(ctx, "add_time", form, nil)
}

// RequestAnalysis kicks off the server-side scenario analysis.
func (c *Client) RequestAnalysis(ctx context.Context) error {
	return c.postForm(ctx, "scenario_analysis", c.identity(), nil)
}

// SubmitMedia uploads a finalized segment for emotion scoring.
func (c *Client) SubmitMedia(ctx context.Context, container domain.Container) (domain.EmotionReport, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := "chat_audio.wav"
	if container.IsVideo {
		filename = "chat_video.webm"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.EmotionReport{}, fmt.Errorf("build media upload: %w", err)
	}
	if _, err := part.Write(container.Bytes); err != nil {
		return domain.EmotionReport{}, fmt.Errorf("build media upload: %w", err)
	}
	for key, values := range c.identity() {
		for _, value := range values {
			_ = writer.WriteField(key, value)
		}
	}
	if err := writer.Close(); err != nil {
		return domain.EmotionReport{}, fmt.Errorf("build media upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("generate_dialog_video"), body)
	if err != nil {
		return domain.EmotionReport{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var payload struct {
		AudioEmotion string `json:"audio_emotion"`
		VideoEmotion string `json:"video_emotion"`
	}
	if err := c.do(req, "generate_dialog_video", &payload); err != nil {
		return domain.EmotionReport{}, err
	}
	return domain.EmotionReport{AudioEmotion: payload.AudioEmotion, VideoEmotion: payload.VideoEmotion}, nil
}

// StoreDetails persists the opening and latest transcript of the session.
func (c *Client) StoreDetails(ctx context.Context, startMessage, lastMessage string) error {
	form := c.identity()
	form.Set("start_message", startMessage)
	form.Set("last_message", lastMessage)
	return c.postForm(ctx, "store_details", form, nil)
}

// DeleteChatStatus clears the server-side in-progress flag for this user.
func (c *Client) DeleteChatStatus(ctx context.Context) error {
	return c.postForm(ctx, "delete_chat_status", c.identity(), nil)
}

func (c *Client) identity() url.Values {
	form := url.Values{}
	form.Set("email", c.scenario.Email)
	form.Set("scenario", c.scenario.Title)
	if c.scenario.ID != "" {
		form.Set("scenario_id", c.scenario.ID)
	}
	return form
}

func (c *Client) endpoint(name string) string {
	return c.baseURL + "/" + name
}

func (c *Client) postForm(ctx context.Context, name string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(name), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, name, out)
}

func (c *Client) do(req *http.Request, name string, out any) error {
	c.metrics.Submissions.WithLabelValues(name).Inc()

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.SubmissionErrors.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.SubmissionErrors.WithLabelValues(name).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.SubmissionErrors.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}
