package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vinq/internal/features"
	"github.com/kalambet/vinq/internal/predict"
	"github.com/kalambet/vinq/internal/predlog"
)

const recentPredictionsURI = "vinq://predictions/recent"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *predict.Service
	Log     *predlog.Log // optional; the recent predictions resource is empty without it
	Version string
}

// NewMCPServer creates an MCP server exposing prediction and model
// introspection tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"vinq",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vinq predicts the quality class (low, medium, high) of a wine from its physicochemical measurements."),
		server.WithRecovery(),
	)

	s.AddTool(predictQualityTool(), mcpPredictQuality(deps))

	s.AddTool(
		mcp.NewTool("model_info",
			mcp.WithDescription("Describe the loaded model: artifact file, pipeline steps, classes and classifier parameters."),
		),
		mcpModelInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("feature_importance",
			mcp.WithDescription("List the classifier's feature importances, most important first."),
		),
		mcpFeatureImportance(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentPredictionsURI,
			"Recent Predictions",
			mcp.WithResourceDescription("Most recent predictions held in the in-memory log"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func predictQualityTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Predict the quality class of one wine. Either type (\"red\" or \"white\") or type_white (0 or 1) must be given."),
		mcp.WithString(features.TypeKey, mcp.Description("Wine type: red or white")),
	}
	for _, name := range features.Names() {
		if name == features.IndicatorKey {
			opts = append(opts, mcp.WithNumber(name, mcp.Description("1 for white wine, 0 for red")))
			continue
		}
		opts = append(opts, mcp.WithNumber(name, mcp.Required()))
	}
	return mcp.NewTool("predict_quality", opts...)
}

func mcpPredictQuality(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := req.GetArguments()
		if payload == nil {
			return mcpError("arguments are required"), nil
		}

		res, err := deps.Service.PredictOne(predict.WithSource(ctx, "mcp"), payload)
		switch {
		case errors.Is(err, features.ErrMissingFeature), errors.Is(err, features.ErrInvalidFeatureValue):
			return mcpError(fmt.Sprintf("%v (required features: %v)", err, features.Names())), nil
		case err != nil:
			return mcpError(fmt.Sprintf("prediction failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpModelInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		md, err := deps.Service.Describe(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("model unavailable: %v", err)), nil
		}
		return mcpJSON(md)
	}
}

func mcpFeatureImportance(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep := deps.Service.Importances(ctx)
		if rep.Error != "" {
			return mcpError(rep.Error), nil
		}
		return mcpJSON(rep)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items := []predlog.Entry{}
		if deps.Log != nil {
			items = deps.Log.Items()
		}
		if len(items) > 10 {
			items = items[len(items)-10:]
		}

		b, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal predictions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
