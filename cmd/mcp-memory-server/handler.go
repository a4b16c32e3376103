package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/collab/internal/research"
)

// RecordParams defines the input parameters shared by both memory tools.
type RecordParams struct {
	Content string `json:"content" jsonschema:"The learning to record, one or two sentences"`
	Context string `json:"context,omitempty" jsonschema:"Optional surrounding context (what was tried, numbers observed)"`
	Round   int    `json:"round,omitempty" jsonschema:"Research round number the learning came from"`
	Step    string `json:"step,omitempty" jsonschema:"Step name the learning came from (e.g. experiment, results)"`
}

// memMu serializes the load-append-save cycle; tool calls arrive one at a
// time over stdio but a second server on the same session dir must not
// interleave writes.
var memMu sync.Mutex

// HandleRecordInsight handles the record_insight tool call.
func HandleRecordInsight(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params RecordParams,
) (*mcp.CallToolResult, any, error) {
	return record("insight", params)
}

// HandleRecordMistake handles the record_mistake tool call.
func HandleRecordMistake(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params RecordParams,
) (*mcp.CallToolResult, any, error) {
	return record("mistake", params)
}

// record appends one entry to the session memory file.
func record(kind string, params RecordParams) (*mcp.CallToolResult, any, error) {
	log.Printf("[MCP Memory Server] Received record_%s request", kind)

	if params.Content == "" {
		return nil, nil, fmt.Errorf("content parameter is required")
	}
	sessionDir := os.Getenv("COLLAB_SESSION_DIR")
	if sessionDir == "" {
		return nil, nil, fmt.Errorf("COLLAB_SESSION_DIR is not set")
	}

	step := params.Step
	if step == "" {
		step = "research"
	}

	memMu.Lock()
	defer memMu.Unlock()

	mem := research.LoadMemory(sessionDir, "")
	switch kind {
	case "insight":
		mem.AddInsight(params.Round, step, params.Content, params.Context)
	case "mistake":
		mem.AddMistake(params.Round, step, params.Content, params.Context)
	default:
		return nil, nil, fmt.Errorf("unknown entry kind %q", kind)
	}

	if err := mem.Save(sessionDir); err != nil {
		log.Printf("[MCP Memory Server] Failed to save memory: %v", err)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)},
			},
			IsError: true,
		}, nil, nil
	}

	resultText := fmt.Sprintf(`{
  "success": true,
  "kind": %q,
  "entries": %d
}`, kind, len(mem.Entries))

	log.Printf("[MCP Memory Server] Recorded %s (%d entries total)", kind, len(mem.Entries))

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: resultText},
		},
	}, nil, nil
}
