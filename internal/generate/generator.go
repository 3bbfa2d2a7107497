// Package generate is the boundary to the text-generation backend. The core
// treats it as an opaque prompt -> text call that may fail.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var ErrEmptyResponse = errors.New("generator returned no text")

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config controls generator construction.
type Config struct {
	Mode        string
	OllamaHost  string
	OllamaModel string
	HTTPURL     string
	Timeout     time.Duration
}

// New builds the generator named by cfg.Mode. In auto mode an HTTP URL wins,
// then ollama when a host is configured, then the mock.
func New(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), nil
		}
		if strings.TrimSpace(cfg.OllamaHost) != "" {
			return NewOllamaGenerator(cfg.OllamaHost, cfg.OllamaModel, cfg.Timeout)
		}
		return NewMockGenerator(), nil
	case "ollama":
		if strings.TrimSpace(cfg.OllamaHost) == "" {
			return nil, errors.New("ollama host is required for ollama mode")
		}
		return NewOllamaGenerator(cfg.OllamaHost, cfg.OllamaModel, cfg.Timeout)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("generator HTTP url is required for http mode")
		}
		if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.HTTPURL)); err != nil {
			return nil, fmt.Errorf("generator HTTP url: %w", err)
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported generator mode %q", cfg.Mode)
	}
}

// Name reports which backend g is, for logs and health output.
func Name(g Generator) string {
	switch g.(type) {
	case *OllamaGenerator:
		return "ollama"
	case *HTTPGenerator:
		return "http"
	case *MockGenerator:
		return "mock"
	default:
		return "custom"
	}
}
