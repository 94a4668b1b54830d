// Package client is a typed API client for the proctoring server. It
// implements the backends the peer coordinator and the autosave buffer need.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx reply. It unwraps to the matching service error so
// callers can use errors.Is against the same taxonomy the server uses.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return response.ErrorFor(e.Status, e.Code)
}

// Client calls the REST API as one authenticated user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return nil
}

func examPath(prefix string, examID uuid.UUID, suffix string) string {
	return fmt.Sprintf("/api/v1/%s/exams/%s/%s", prefix, url.PathEscape(examID.String()), suffix)
}

// ── Proctoring ──────────────────────────────────────────────────────────────

// StartSession registers connectionID as the caller's live connection.
func (c *Client) StartSession(ctx context.Context, examID uuid.UUID, connectionID string) (*model.ProctoringSession, error) {
	var s model.ProctoringSession
	err := c.do(ctx, http.MethodPost, examPath("proctoring", examID, "sessions"),
		model.StartSessionRequest{ConnectionID: connectionID}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// EndSession ends the caller's session.
func (c *Client) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/proctoring/sessions/"+sessionID.String(), nil, nil)
}

// ListActiveSessions returns the exam's active sessions.
func (c *Client) ListActiveSessions(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSession, error) {
	var out []model.ProctoringSession
	if err := c.do(ctx, http.MethodGet, examPath("proctoring", examID, "sessions"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendSignal relays a negotiation message.
func (c *Client) SendSignal(ctx context.Context, examID uuid.UUID, req model.SendSignalRequest) (*model.ProctoringSignal, error) {
	var sig model.ProctoringSignal
	if err := c.do(ctx, http.MethodPost, examPath("proctoring", examID, "signals"), req, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// SignalsFor returns every signal addressed to the caller in the exam.
func (c *Client) SignalsFor(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSignal, error) {
	var out []model.ProctoringSignal
	if err := c.do(ctx, http.MethodGet, examPath("proctoring", examID, "signals"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Attempt ─────────────────────────────────────────────────────────────────

// State returns the caller's attempt view.
func (c *Client) State(ctx context.Context, examID uuid.UUID) (*model.AttemptState, error) {
	var st model.AttemptState
	if err := c.do(ctx, http.MethodGet, examPath("student", examID, "state"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RequestStart starts the attempt timer, or returns the existing start.
func (c *Client) RequestStart(ctx context.Context, examID uuid.UUID) (*model.AnswerSheet, error) {
	var sheet model.AnswerSheet
	if err := c.do(ctx, http.MethodPost, examPath("student", examID, "start"), nil, &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

// SaveAnswers sends a merge-patch of answers.
func (c *Client) SaveAnswers(ctx context.Context, examID uuid.UUID, patch model.Answers) (*model.AnswerSheet, error) {
	var sheet model.AnswerSheet
	err := c.do(ctx, http.MethodPatch, examPath("student", examID, "answers"),
		model.SaveAnswersRequest{ChangedAnswers: patch}, &sheet)
	if err != nil {
		return nil, err
	}
	return &sheet, nil
}

// Submit finalizes the attempt.
func (c *Client) Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.AnswerSheet, error) {
	var sheet model.AnswerSheet
	if err := c.do(ctx, http.MethodPost, examPath("student", examID, "submit"), req, &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

// Result returns the caller's graded result.
func (c *Client) Result(ctx context.Context, examID uuid.UUID) (*model.ExamResult, error) {
	var res model.ExamResult
	if err := c.do(ctx, http.MethodGet, examPath("student", examID, "result"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
