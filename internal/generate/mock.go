package generate

import (
	"context"
	"fmt"
	"strings"
)

const mockMaxRunes = 160

// MockGenerator returns a deterministic line derived from the prompt, for
// local runs without a model.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	line := strings.TrimSpace(prompt)
	if i := strings.LastIndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		return "You've got this.", nil
	}
	if r := []rune(line); len(r) > mockMaxRunes {
		line = string(r[:mockMaxRunes]) + "..."
	}
	return fmt.Sprintf("(in character) %s", line), nil
}
