package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Rejection reasons reported by the face service.
const (
	ReasonInvalidImage   = "invalid_image"
	ReasonNoFaceDetected = "no_face_detected"
	ReasonSpoofDetected  = "spoof_detected"
	ReasonUnknownPerson  = "unknown_person"
)

// DefaultDelay is how long a simulated verification takes. A simulated
// enrollment takes three quarters of it and liveness returns at once, so one
// liveness plus verify pair costs a single delay.
const DefaultDelay = 2 * time.Second

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// EnrollResult is the outcome of storing a student's reference face.
type EnrollResult struct {
	StudentID string
	Success   bool
	Reason    string
	Quality   *FaceQuality
}

// VerifyResult is the outcome of a 1:1 comparison against an enrolled student.
type VerifyResult struct {
	StudentID  string
	Verified   bool
	Similarity float64
	Threshold  float64
	Reason     string
}

// LivenessResult is the outcome of the anti-spoofing check.
type LivenessResult struct {
	IsLive     bool
	Confidence float64
	Reason     string
}

// Client calls the face recognition microservice. With Skip set every call
// succeeds after Delay without touching the network.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
	Delay   time.Duration
}

// New creates a client. A negative delay selects DefaultDelay.
func New(baseURL string, skip bool, delay time.Duration) *Client {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		Delay:   delay,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enroll stores the reference face of a student.
func (c *Client) Enroll(ctx context.Context, studentID, name, image string) (*EnrollResult, error) {
	if c.Skip {
		if err := c.wait(ctx, c.Delay*3/4); err != nil {
			return nil, err
		}
		return &EnrollResult{StudentID: studentID, Success: true, Quality: &FaceQuality{Score: 0.85, IsFrontal: true}}, nil
	}

	var out struct {
		UserID  string       `json:"user_id"`
		Success bool         `json:"success"`
		Reason  string       `json:"reason"`
		Quality *FaceQuality `json:"quality"`
	}
	payload := map[string]string{"user_id": studentID, "image": image, "name": name}
	if err := c.post(ctx, "/enroll", payload, &out); err != nil {
		return nil, err
	}
	return &EnrollResult{StudentID: out.UserID, Success: out.Success, Reason: out.Reason, Quality: out.Quality}, nil
}

// Liveness checks that the image shows a live person.
func (c *Client) Liveness(ctx context.Context, image string) (*LivenessResult, error) {
	if c.Skip {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &LivenessResult{IsLive: true, Confidence: 0.85}, nil
	}

	var out struct {
		IsLive     bool    `json:"is_live"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := c.post(ctx, "/liveness", map[string]string{"image": image}, &out); err != nil {
		return nil, err
	}
	res := &LivenessResult{IsLive: out.IsLive, Confidence: out.Confidence, Reason: out.Reason}
	if !res.IsLive && res.Reason == "" {
		res.Reason = ReasonSpoofDetected
	}
	return res, nil
}

// Verify compares image with the enrolled face of studentID.
func (c *Client) Verify(ctx context.Context, studentID, image string) (*VerifyResult, error) {
	if c.Skip {
		if err := c.wait(ctx, c.Delay); err != nil {
			return nil, err
		}
		return &VerifyResult{StudentID: studentID, Verified: true, Similarity: 0.92, Threshold: 0.45}, nil
	}

	var out struct {
		UserID     string  `json:"user_id"`
		Verified   bool    `json:"verified"`
		Similarity float64 `json:"similarity"`
		Threshold  float64 `json:"threshold"`
		Reason     string  `json:"reason"`
	}
	if err := c.post(ctx, "/verify", map[string]string{"user_id": studentID, "image": image}, &out); err != nil {
		return nil, err
	}
	res := &VerifyResult{
		StudentID:  out.UserID,
		Verified:   out.Verified,
		Similarity: out.Similarity,
		Threshold:  out.Threshold,
		Reason:     out.Reason,
	}
	if !res.Verified && res.Reason == "" {
		res.Reason = ReasonUnknownPerson
	}
	return res, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
