// Package cmd contains the lorekeep command line entry points.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute routes the command line to the requested subcommand. It is called
// from main() and kept free of os.Exit so it stays testable.
func Execute() error {
	// Optional .env for local development; a missing file is not an error.
	_ = godotenv.Load()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		printVersion()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printVersion() {
	fmt.Printf("lorekeep %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Print(`lorekeep - chatbot knowledge ingestion and retrieval service

Usage:
  lorekeep [command]

Commands:
  serve      Start the ingestion workers and metrics endpoint (default)
  migrate    Apply database migrations and exit
  version    Show version information
  help       Show this help

Environment:
  GEMINI_API_KEY      Google AI API key (required for serve)
  LOREKEEP_*          Configuration overrides, see config package
`)
}
