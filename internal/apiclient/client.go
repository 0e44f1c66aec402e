package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"smartlocker/internal/booking"
	"smartlocker/internal/locker"
)

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string `json:"error"`
	Reason  string `json:"reason"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api %d: %s (%s)", e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// Client talks to the locker HTTP API.
type Client struct {
	Base string
	HTTP *http.Client
}

// New creates a client. Verification calls can take a few seconds, so the
// timeout is generous.
func New(base string) *Client {
	return &Client{Base: base, HTTP: &http.Client{Timeout: 60 * time.Second}}
}

// LockerList is the answer of Lockers.
type LockerList struct {
	Lockers   []locker.Locker `json:"lockers"`
	Total     int             `json:"total"`
	Available int             `json:"available"`
}

type studentEnvelope struct {
	Student locker.Student `json:"student"`
}

func (c *Client) Session(ctx context.Context) (locker.State, error) {
	var out locker.State
	err := c.do(ctx, http.MethodGet, "/v1/session", nil, &out)
	return out, err
}

func (c *Client) Lockers(ctx context.Context) (LockerList, error) {
	var out LockerList
	err := c.do(ctx, http.MethodGet, "/v1/lockers", nil, &out)
	return out, err
}

func (c *Client) Register(ctx context.Context, studentID, fullName, faceImage string) (locker.Student, error) {
	var out studentEnvelope
	body := map[string]string{"student_id": studentID, "full_name": fullName, "face_image": faceImage}
	err := c.do(ctx, http.MethodPost, "/v1/students/register", body, &out)
	return out.Student, err
}

func (c *Client) Login(ctx context.Context, studentID, faceImage string) (locker.Student, error) {
	var out studentEnvelope
	body := map[string]string{"student_id": studentID, "face_image": faceImage}
	err := c.do(ctx, http.MethodPost, "/v1/students/login", body, &out)
	return out.Student, err
}

func (c *Client) SelectLocker(ctx context.Context, number int) error {
	return c.do(ctx, http.MethodPut, "/v1/session/locker", map[string]int{"number": number}, nil)
}

func (c *Client) SelectDuration(ctx context.Context, hours int) error {
	return c.do(ctx, http.MethodPut, "/v1/session/duration", map[string]int{"hours": hours}, nil)
}

func (c *Client) Continue(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/session/continue", nil, nil)
}

func (c *Client) Verify(ctx context.Context, faceImage string) (booking.Confirmation, error) {
	var out booking.Confirmation
	err := c.do(ctx, http.MethodPost, "/v1/session/verify", map[string]string{"face_image": faceImage}, &out)
	return out, err
}

func (c *Client) Countdown(ctx context.Context) (locker.Countdown, error) {
	var out locker.Countdown
	err := c.do(ctx, http.MethodGet, "/v1/session/countdown", nil, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/session/reset", nil, nil)
}

func (c *Client) Reservations(ctx context.Context) ([]locker.Reservation, error) {
	var out struct {
		Reservations []locker.Reservation `json:"reservations"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/reservations", nil, &out)
	return out.Reservations, err
}

func (c *Client) Complete(ctx context.Context, reservationID string) (locker.Reservation, error) {
	var out struct {
		Reservation locker.Reservation `json:"reservation"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/reservations/"+reservationID+"/complete", nil, &out)
	return out.Reservation, err
}

// Access asks to open a locker. A denial is returned as a decision, not an error.
func (c *Client) Access(ctx context.Context, number int, faceImage string) (booking.AccessDecision, error) {
	var out booking.AccessDecision
	err := c.do(ctx, http.MethodPost, "/v1/lockers/"+strconv.Itoa(number)+"/access", map[string]string{"face_image": faceImage}, &out)
	return out, err
}

// Export streams the XLSX reservation report into w.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/v1/reservations/export", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// access denials carry a decision body
	denied := resp.StatusCode == http.StatusForbidden && out != nil
	if resp.StatusCode >= 300 && !denied {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	b, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}
