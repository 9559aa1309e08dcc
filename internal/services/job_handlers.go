package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/BradenHooton/petguard/internal/models"
	"github.com/go-playground/validator/v10"
)

// JobHandler executes one job type. Returning false or an error counts as a failed attempt.
type JobHandler interface {
	Type() models.JobType
	Handle(ctx context.Context, job *models.FailedJob) (bool, error)
}

// HandlerRegistry resolves a job type to its handler
type HandlerRegistry struct {
	handlers map[models.JobType]JobHandler
}

// NewHandlerRegistry registers the given handlers
func NewHandlerRegistry(handlers ...JobHandler) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[models.JobType]JobHandler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces the handler for h.Type()
func (r *HandlerRegistry) Register(h JobHandler) {
	r.handlers[h.Type()] = h
}

// Lookup returns the handler registered for jobType
func (r *HandlerRegistry) Lookup(jobType models.JobType) (JobHandler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}

var payloadValidator = validator.New()

// decodePayload unmarshals and validates a job payload
func decodePayload(job *models.FailedJob, dst any) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("%w: invalid %s payload: %v", models.ErrValidation, job.JobType, err)
	}
	if err := payloadValidator.Struct(dst); err != nil {
		return fmt.Errorf("%w: invalid %s payload: %v", models.ErrValidation, job.JobType, err)
	}
	return nil
}

// ServiceTokenSource mints bearer tokens for calls between internal services
type ServiceTokenSource interface {
	GenerateServiceToken(subject string) (string, error)
}

// EdgeFunctionPayload names a backend function and its JSON body
type EdgeFunctionPayload struct {
	Function string          `json:"function" validate:"required,max=128,excludesall=/?#"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// EdgeFunctionHandler re-invokes a backend function with a service-role bearer token
type EdgeFunctionHandler struct {
	client  *http.Client
	baseURL string
	tokens  ServiceTokenSource
}

// NewEdgeFunctionHandler creates an EdgeFunctionHandler calling functions under baseURL
func NewEdgeFunctionHandler(client *http.Client, baseURL string, tokens ServiceTokenSource) *EdgeFunctionHandler {
	return &EdgeFunctionHandler{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
	}
}

// Type returns JobTypeEdgeFunction
func (h *EdgeFunctionHandler) Type() models.JobType { return models.JobTypeEdgeFunction }

// Handle POSTs the payload body to the named function. Any 2xx response is a success.
func (h *EdgeFunctionHandler) Handle(ctx context.Context, job *models.FailedJob) (bool, error) {
	var p EdgeFunctionPayload
	if err := decodePayload(job, &p); err != nil {
		return false, err
	}
	if h.baseURL == "" {
		return false, fmt.Errorf("functions base url is not configured")
	}

	token, err := h.tokens.GenerateServiceToken("retry-scheduler")
	if err != nil {
		return false, fmt.Errorf("failed to mint service token: %w", err)
	}

	body := p.Body
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	return doRequest(ctx, h.client, http.MethodPost, h.baseURL+"/"+url.PathEscape(p.Function), headers, body)
}

// EmailJobHandler delivers a deferred EmailMessage
type EmailJobHandler struct {
	sender EmailSender
}

// NewEmailJobHandler creates an EmailJobHandler
func NewEmailJobHandler(sender EmailSender) *EmailJobHandler {
	return &EmailJobHandler{sender: sender}
}

// Type returns JobTypeEmail
func (h *EmailJobHandler) Type() models.JobType { return models.JobTypeEmail }

// Handle sends the stored message through the configured EmailSender
func (h *EmailJobHandler) Handle(ctx context.Context, job *models.FailedJob) (bool, error) {
	var msg EmailMessage
	if err := decodePayload(job, &msg); err != nil {
		return false, err
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

// NotificationPayload is an in-app notification row
type NotificationPayload struct {
	UserID  *string `json:"user_id,omitempty" validate:"omitempty,uuid"`
	Title   string  `json:"title" validate:"required,max=255"`
	Message string  `json:"message" validate:"required"`
	Type    string  `json:"type" validate:"required,max=50"`
}

// NotificationWriter persists in-app notifications
type NotificationWriter interface {
	Create(ctx context.Context, userID *string, title, message, kind string) error
}

// NotificationJobHandler writes a deferred in-app notification
type NotificationJobHandler struct {
	repo NotificationWriter
}

// NewNotificationJobHandler creates a NotificationJobHandler
func NewNotificationJobHandler(repo NotificationWriter) *NotificationJobHandler {
	return &NotificationJobHandler{repo: repo}
}

// Type returns JobTypeNotification
func (h *NotificationJobHandler) Type() models.JobType { return models.JobTypeNotification }

// Handle writes the notification row
func (h *NotificationJobHandler) Handle(ctx context.Context, job *models.FailedJob) (bool, error) {
	var p NotificationPayload
	if err := decodePayload(job, &p); err != nil {
		return false, err
	}
	if err := h.repo.Create(ctx, p.UserID, p.Title, p.Message, p.Type); err != nil {
		return false, fmt.Errorf("failed to write notification: %w", err)
	}
	return true, nil
}

// APICallPayload describes an outbound HTTP request
type APICallPayload struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// APICallHandler replays an HTTP request; any 2xx response is a success
type APICallHandler struct {
	client *http.Client
}

// NewAPICallHandler creates an APICallHandler
func NewAPICallHandler(client *http.Client) *APICallHandler {
	return &APICallHandler{client: client}
}

// Type returns JobTypeAPICall
func (h *APICallHandler) Type() models.JobType { return models.JobTypeAPICall }

// Handle replays the request, defaulting to POST
func (h *APICallHandler) Handle(ctx context.Context, job *models.FailedJob) (bool, error) {
	var p APICallPayload
	if err := decodePayload(job, &p); err != nil {
		return false, err
	}

	method := p.Method
	if method == "" {
		method = http.MethodPost
	}

	headers := p.Headers
	if len(p.Body) > 0 {
		if headers == nil {
			headers = make(map[string]string, 1)
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	return doRequest(ctx, h.client, method, p.URL, headers, p.Body)
}

func doRequest(ctx context.Context, client *http.Client, method, target string, headers map[string]string, body []byte) (bool, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%s %s: unexpected status %d: %s",
			method, req.URL.Redacted(), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return true, nil
}
