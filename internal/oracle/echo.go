package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Echo is an offline backend that returns a deterministic digest of the
// prompt. It exercises the full pipeline without a model.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(prompt))
	subject := "input"
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "File name:"); ok {
			subject = strings.TrimSpace(name)
			break
		}
		if name, ok := strings.CutPrefix(line, "Component name:"); ok {
			subject = strings.TrimSpace(name)
			break
		}
	}
	return fmt.Sprintf("Summary of %s (%d words, digest %s).", subject, len(strings.Fields(prompt)), hex.EncodeToString(sum[:6])), nil
}
