package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	// 1. Validate required environment variables
	if os.Getenv("COLLAB_SESSION_DIR") == "" {
		log.Fatalf("[MCP Memory Server] Missing required environment variable: COLLAB_SESSION_DIR")
	}

	log.Println("[MCP Memory Server] Starting Research Memory MCP Server v1.0.0")
	log.Printf("[MCP Memory Server] Session dir: %s", os.Getenv("COLLAB_SESSION_DIR"))

	// 2. Create MCP server
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "research-memory-server",
		Version: "v1.0.0",
	}, nil)

	// 3. Register the memory tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_insight",
		Description: "Record a valuable insight or discovery into the research session memory so later rounds can build on it",
	}, HandleRecordInsight)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_mistake",
		Description: "Record a mistake or failed approach into the research session memory so later rounds avoid repeating it",
	}, HandleRecordMistake)
	log.Println("[MCP Memory Server] Registered tools: record_insight, record_mistake")

	// 4. Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP Memory Server] Received shutdown signal")
		cancel()
	}()

	// 5. Start server with stdio transport
	log.Println("[MCP Memory Server] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("[MCP Memory Server] Server error: %v", err)
	}
	log.Println("[MCP Memory Server] Server stopped gracefully")
}
