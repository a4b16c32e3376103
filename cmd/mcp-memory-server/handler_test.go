package main

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/collab/internal/research"
)

func TestRecordInsightAppendsToMemory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COLLAB_SESSION_DIR", dir)

	res, _, err := HandleRecordInsight(context.Background(), &mcp.CallToolRequest{}, RecordParams{
		Content: "larger batch sizes improve AUROC",
		Context: "batch 32 → 0.95, batch 64 → 0.97",
		Round:   2,
		Step:    "results",
	})
	if err != nil {
		t.Fatalf("HandleRecordInsight: %v", err)
	}
	if res.IsError {
		t.Fatalf("Unexpected error result: %v", res.Content)
	}

	mem := research.LoadMemory(dir, "")
	if len(mem.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(mem.Entries))
	}
	e := mem.Entries[0]
	if e.Type != "insight" || e.RoundNum != 2 || e.StepName != "results" {
		t.Errorf("Entry = %+v", e)
	}
	if !strings.Contains(e.Content, "larger batch sizes") {
		t.Errorf("Content = %q", e.Content)
	}
}

func TestRecordMistakeDefaultsStep(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COLLAB_SESSION_DIR", dir)

	if _, _, err := HandleRecordMistake(context.Background(), &mcp.CallToolRequest{}, RecordParams{
		Content: "OOM at batch 128",
	}); err != nil {
		t.Fatalf("HandleRecordMistake: %v", err)
	}

	mem := research.LoadMemory(dir, "")
	if len(mem.Entries) != 1 || mem.Entries[0].Type != "mistake" {
		t.Fatalf("Entries = %+v", mem.Entries)
	}
	if mem.Entries[0].StepName != "research" {
		t.Errorf("Step should default to research, got %q", mem.Entries[0].StepName)
	}
}

func TestRecordAccumulatesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COLLAB_SESSION_DIR", dir)

	for i := 0; i < 3; i++ {
		if _, _, err := HandleRecordInsight(context.Background(), &mcp.CallToolRequest{}, RecordParams{
			Content: "insight",
		}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	mem := research.LoadMemory(dir, "")
	if len(mem.Entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(mem.Entries))
	}
}

func TestRecordRequiresContent(t *testing.T) {
	t.Setenv("COLLAB_SESSION_DIR", t.TempDir())
	if _, _, err := HandleRecordInsight(context.Background(), &mcp.CallToolRequest{}, RecordParams{}); err == nil {
		t.Fatal("Expected error for empty content")
	}
}

func TestRecordRequiresSessionDir(t *testing.T) {
	t.Setenv("COLLAB_SESSION_DIR", "")
	if _, _, err := HandleRecordMistake(context.Background(), &mcp.CallToolRequest{}, RecordParams{
		Content: "x",
	}); err == nil {
		t.Fatal("Expected error without COLLAB_SESSION_DIR")
	}
}
