// Package codegen rewrites editor content with a chat-completion model.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/gitpilot/schema"
)

// SystemPrompt is sent as the system instruction to every provider.
const SystemPrompt = "You are an expert programmer. Respond only with code that addresses the user's request, without any additional explanations. By default output full code unless specified by the user prompt."

// Generator turns an instruction and the current code into new code.
type Generator interface {
	Name() schema.ProviderName
	Generate(ctx context.Context, instruction, content string) (string, error)
}

// UserTurn builds the single user message: the instruction followed by the code.
func UserTurn(instruction, content string) string {
	return instruction + " " + content
}

// ProviderError reports a failed provider call.
type ProviderError struct {
	Provider schema.ProviderName
	Status   int
	Message  string
	Err      error
}

// NewProviderError classifies err as a provider failure.
func NewProviderError(provider schema.ProviderName, status int, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Message: message, Err: err}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	detail := e.Message
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.Status, detail)
	}
	if detail == "" {
		return fmt.Sprintf("%s: %s", e.Provider, schema.ErrProvider)
	}
	return fmt.Sprintf("%s: %s", e.Provider, detail)
}

// Unwrap matches schema.ErrProvider as well as the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{schema.ErrProvider}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTimeout reports whether the provider call ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// StripFences removes a single Markdown code fence wrapping the whole response.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	body := strings.TrimSuffix(trimmed, "```")
	nl := strings.IndexByte(body, '\n')
	if nl == -1 {
		return text
	}
	body = body[nl+1:]
	if strings.Contains(body, "\n```") {
		return text
	}
	return strings.TrimRight(body, " \t")
}
