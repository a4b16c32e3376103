package main

import (
	"log"

	"github.com/joho/godotenv"
)

var loadDotEnv = godotenv.Load

func main() {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	if err := Execute(); err != nil {
		log.Fatalf("collab: %v", err)
	}
}
