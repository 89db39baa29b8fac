package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/pipeline"
)

const (
	stagesURI   = "tally://stages"
	pipelineURI = "tally://pipeline"
)

// registerResources adds read-only context documents that clients can load
// without calling a tool.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			stagesURI,
			"Pipeline Stages",
			mcp.WithResourceDescription(
				"The pipeline stages in canonical order, with whether each one is closed.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleStagesResource,
	)

	srv.AddResource(
		mcp.NewResource(
			pipelineURI,
			"Pipeline Summary",
			mcp.WithResourceDescription(
				"Deal count, total and weighted value per stage for the deals the "+
					"connected user can see. Deal lists are omitted; use tally_pipeline for them.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePipelineResource,
	)
}

type stageInfo struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	Closed   bool   `json:"closed"`
}

func (s *MCPServer) handleStagesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stages := model.Stages()
	items := make([]stageInfo, len(stages))
	for i, st := range stages {
		items[i] = stageInfo{Name: st.String(), Position: st.Index(), Closed: st.Closed()}
	}
	return jsonResource(stagesURI, items)
}

type stageSummary struct {
	Stage         model.Stage `json:"stage"`
	Count         int         `json:"count"`
	Total         string      `json:"total"`
	WeightedTotal string      `json:"weighted_total"`
}

func (s *MCPServer) handlePipelineResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	res, err := pipeline.Load(ctx, s.store, model.DealFilter{OwnerID: s.scope()}, pipeline.SortNone)
	if err != nil {
		return nil, err
	}
	items := make([]stageSummary, len(res.Stages))
	for i, st := range res.Stages {
		items[i] = stageSummary{
			Stage:         st.Stage,
			Count:         st.Count,
			Total:         st.Total.String(),
			WeightedTotal: st.WeightedTotal.String(),
		}
	}
	return jsonResource(pipelineURI, map[string]interface{}{
		"stages":   items,
		"excluded": res.Excluded,
		"metrics":  pipeline.Summarize(res),
	})
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
