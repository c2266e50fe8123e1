package patch

import (
	"context"
	"encoding/json"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgehq/forge/internal/forgeerr"
)

// RemoteConfig points the fast-apply client at a chat-completions
// endpoint, reusing the same OpenAI-compatible wire shape C1 speaks.
type RemoteConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// remoteClient posts the envelope described in spec.md §4.4's Remote
// path and returns the model's full-file replacement text.
type remoteClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func newRemoteClient(cfg RemoteConfig) *remoteClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &remoteClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

type remoteEnvelope struct {
	Instructions string `json:"instructions"`
	CodeEdit     string `json:"code_edit"`
	TargetFile   string `json:"target_file"`
	FileContent  string `json:"file_content"`
}

// apply sends the envelope and returns the full updated file content.
func (c *remoteClient) apply(ctx context.Context, targetFile, instructions, codeEdit, fileContent string) (string, error) {
	envelope, err := json.Marshal(remoteEnvelope{
		Instructions: instructions,
		CodeEdit:     codeEdit,
		TargetFile:   targetFile,
		FileContent:  fileContent,
	})
	if err != nil {
		return "", &forgeerr.PatchError{File: targetFile, Message: "encode remote envelope", Cause: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: string(envelope)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", &forgeerr.CancelledError{Op: "patch.remote"}
		}
		return "", &forgeerr.PatchError{File: targetFile, Message: "remote request failed", Cause: err}
	}
	if len(resp.Choices) == 0 {
		return "", &forgeerr.PatchError{File: targetFile, Message: "remote response had no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}
