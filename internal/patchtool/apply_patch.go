// Package patchtool adapts C4's patch engine into a models.Tool so the
// agent loop can call apply_patch like any other tool, grounded on the
// teacher's internal/tools/files/patch.go (ApplyPatchTool: resolver-
// scoped diff application, one ToolResult per file set).
package patchtool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/patch"
)

// Tool wraps a *patch.Engine as the apply_patch tool.
type Tool struct {
	engine *patch.Engine
}

// New builds an apply_patch tool bound to engine.
func New(engine *patch.Engine) *Tool {
	return &Tool{engine: engine}
}

func (t *Tool) Name() string { return "apply_patch" }

func (t *Tool) Description() string {
	return "Apply an edit to a file in the workspace. Accepts either the local anchor-text dialect " +
		"(***Add/Update/Delete File*** sections) or free-form edit instructions for the remote fast-apply " +
		"endpoint; strategy defaults to auto, which picks the local dialect when code_edit looks like one."
}

func (t *Tool) ParameterSchema() models.ToolParamSchema {
	return models.ToolParamSchema{
		Type: "object",
		Properties: map[string]any{
			"target_file": map[string]any{
				"type":        "string",
				"description": "Path of the file to edit, relative to the workspace root.",
			},
			"instructions": map[string]any{
				"type":        "string",
				"description": "A one-sentence, first-person description of the edit being made.",
			},
			"code_edit": map[string]any{
				"type":        "string",
				"description": "The edit to apply: either local-dialect sections or the new code with unchanged regions elided.",
			},
			"strategy": map[string]any{
				"type":        "string",
				"description": "One of auto, local, remote. Defaults to auto.",
				"enum":        []string{"auto", "local", "remote"},
			},
			"dry_run": map[string]any{
				"type":        "boolean",
				"description": "When true, validate the edit without writing any file.",
			},
		},
		Required: []string{"target_file", "code_edit"},
	}
}

func (t *Tool) RequiredParams() []string { return []string{"target_file", "code_edit"} }

func (t *Tool) DisplaySummary(params json.RawMessage) string {
	var input struct {
		TargetFile string `json:"target_file"`
	}
	if err := json.Unmarshal(params, &input); err != nil || input.TargetFile == "" {
		return "apply_patch"
	}
	return fmt.Sprintf("apply_patch(%s)", input.TargetFile)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (models.ToolResult, error) {
	var input struct {
		TargetFile   string `json:"target_file"`
		Instructions string `json:"instructions"`
		CodeEdit     string `json:"code_edit"`
		Strategy     string `json:"strategy"`
		DryRun       bool   `json:"dry_run"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if strings.TrimSpace(input.TargetFile) == "" {
		return models.ToolResult{Success: false, Error: "target_file is required"}, nil
	}
	if strings.TrimSpace(input.CodeEdit) == "" {
		return models.ToolResult{Success: false, Error: "code_edit is required"}, nil
	}

	strategy := models.PatchStrategy(input.Strategy)
	switch strategy {
	case "":
		strategy = models.StrategyAuto
	case models.StrategyAuto, models.StrategyLocal, models.StrategyRemote:
	default:
		return models.ToolResult{Success: false, Error: fmt.Sprintf("unknown strategy %q", input.Strategy)}, nil
	}

	result, err := t.engine.Apply(ctx, patch.Request{
		TargetFile:   input.TargetFile,
		Instructions: input.Instructions,
		CodeEdit:     input.CodeEdit,
		Strategy:     strategy,
		DryRun:       input.DryRun,
	})
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}, nil
	}

	payload, err := json.MarshalIndent(map[string]any{
		"files":           result.Files,
		"strategy_used":   result.StrategyUsed,
		"fallback_used":   result.FallbackUsed,
		"fallback_reason": result.FallbackReason,
	}, "", "  ")
	if err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("encode result: %v", err)}, nil
	}

	return models.ToolResult{Success: true, RawData: result, FormattedOutput: string(payload)}, nil
}
