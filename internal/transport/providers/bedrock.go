package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/transport"
)

// BedrockConfig configures the AWS Bedrock Converse API provider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockProvider implements transport.Provider over the Converse/
// ConverseStream APIs, the third wired backend named in spec.md §6.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	retry        transport.RetryPolicy
}

// NewBedrockProvider builds a provider using the AWS default credential
// chain, or explicit static credentials when both key fields are set.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, &forgeerr.ConfigError{Section: "transport.bedrock", Message: "failed to load AWS config: " + err.Error()}
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		retry:        transport.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string { return "bedrock" }

// Create issues a ConverseStream request through Stream and drains it
// into a single Response.
func (p *BedrockProvider) Create(ctx context.Context, req transport.Request) (transport.Response, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return transport.Response{}, err
	}
	var out transport.Response
	pending := map[int]*models.ToolCallRequest{}
	order := []int{}
	for ev := range events {
		if ev.Err != nil {
			return transport.Response{}, ev.Err
		}
		out.Content += ev.ContentDelta
		if ev.FinishReason != "" {
			out.FinishReason = ev.FinishReason
		}
		for _, d := range ev.ToolCallDeltas {
			tc, ok := pending[d.Index]
			if !ok {
				tc = &models.ToolCallRequest{}
				pending[d.Index] = tc
				order = append(order, d.Index)
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Name != "" {
				tc.Name = d.Name
			}
			tc.ArgumentsJSON += d.Arguments
		}
	}
	for _, idx := range order {
		out.ToolCalls = append(out.ToolCalls, *pending[idx])
	}
	return out, nil
}

// Stream issues a streaming ConverseStream request.
func (p *BedrockProvider) Stream(ctx context.Context, req transport.Request) (<-chan transport.ChunkEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertBedrockMessages(req.Messages),
	}
	if system := systemPrompt(req.Messages); system != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = convertBedrockTools(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	lastErr := p.retry.Retry(ctx, p.isRetryableError, func() error {
		var err error
		stream, err = p.client.ConverseStream(ctx, converseReq)
		return err
	})
	if lastErr != nil {
		if ctx.Err() != nil {
			return nil, &forgeerr.CancelledError{Op: "transport.stream"}
		}
		return nil, p.wrapError(lastErr)
	}

	out := make(chan transport.ChunkEvent)
	go p.pump(ctx, stream, out)
	return out, nil
}

func (p *BedrockProvider) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- transport.ChunkEvent) {
	defer close(out)
	eventStream := stream.GetStream()
	defer eventStream.Close()

	toolIndex := 0
	hasOpenTool := false

	for {
		select {
		case <-ctx.Done():
			out <- transport.ChunkEvent{Err: &forgeerr.CancelledError{Op: "transport.stream"}}
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- transport.ChunkEvent{Err: p.wrapError(err)}
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					hasOpenTool = true
					out <- transport.ChunkEvent{ToolCallDeltas: []transport.ToolCallDelta{{
						Index: toolIndex,
						ID:    aws.ToString(toolUse.Value.ToolUseId),
						Name:  aws.ToString(toolUse.Value.Name),
					}}}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- transport.ChunkEvent{ContentDelta: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						out <- transport.ChunkEvent{ToolCallDeltas: []transport.ToolCallDelta{{
							Index: toolIndex, Arguments: *delta.Value.Input,
						}}}
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if hasOpenTool {
					toolIndex++
					hasOpenTool = false
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- transport.ChunkEvent{FinishReason: string(ev.Value.StopReason)}
				return
			}
		}
	}
}

func systemPrompt(messages []models.Message) string {
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			return m.Content.String()
		}
	}
	return ""
}

func convertBedrockMessages(messages []models.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			continue
		}
		var content []types.ContentBlock
		if text := m.Content.String(); text != "" {
			content = append(content, &types.ContentBlockMemberText{Value: text})
		}
		if m.Role == models.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content.String()}},
				},
			})
		}
		for _, tc := range m.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

func convertBedrockTools(defs []models.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, len(defs))
	for i, d := range defs {
		tools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(map[string]any{
						"type":       d.Parameters.Type,
						"properties": d.Parameters.Properties,
						"required":   d.Parameters.Required,
					}),
				},
			},
		}
	}
	return &types.ToolConfiguration{Tools: tools}
}

func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"throttlingexception", "toomanyrequestsexception", "serviceunavailableexception", "rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) wrapError(err error) error {
	return &forgeerr.TransportError{Op: "transport.bedrock", Cause: fmt.Errorf("%w", err)}
}
