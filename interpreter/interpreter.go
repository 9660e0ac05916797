// Package interpreter turns a natural-language command into an intent.
package interpreter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"fsagent/errs"
	"fsagent/intent"
	"fsagent/internal/logging"
	"fsagent/security"
)

// Interpreter translates one user command.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (intent.Intent, error)
}

// Completer sends a system and a user message to a model and returns the
// raw reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	ModelName() string
}

// Model interprets commands with a chat model that replies in JSON.
type Model struct {
	completer Completer
	logger    *zap.Logger
}

// New creates an interpreter backed by completer.
func New(completer Completer, logger *zap.Logger) *Model {
	return &Model{completer: completer, logger: logging.OrNop(logger).Named("interpreter")}
}

// Interpret asks the model for an intent and decodes its reply.
func (m *Model) Interpret(ctx context.Context, text string) (intent.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.New(errs.ValidationFailure, "interpret", "command is empty")
	}

	m.logger.Debug("interpreting", zap.String("request", security.Redact(text)))

	reply, err := m.completer.Complete(ctx, SystemPrompt(), text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Classify("interpret", ctx.Err())
		}
		return nil, errs.Wrap(errs.IOFailure, "interpret", err, "the language model could not be reached").
			WithSuggestions("check api_key and base_url with `fsagent config list`")
	}

	m.logger.Debug("model reply", zap.String("model", m.completer.ModelName()), zap.String("reply", security.Redact(reply)))

	in, err := intent.Decode([]byte(ExtractJSON(reply)))
	if err != nil {
		return nil, err
	}
	return in, nil
}

// ExtractJSON returns the first JSON object in s, dropping any markdown
// code fence or prose the model wrapped around it.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
