/*
Package log provides structured logging for the replicated vector database
daemon using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with context-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("dispatch")                │          │
	│  │  - WithSpace("s1")                          │          │
	│  │  - WithVersion("s1", 3)                     │          │
	│  │  - WithRaftTerm(7)                          │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Example: "resolved vector_index_id for s1/0 from cache"

Info Level:
  - Purpose: General informational messages, default production level
  - Example: "restored snapshot snapshot-202401020000.zip"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Example: "follower fetch-from-leader failed, restore will surface the real error"

Error Level:
  - Purpose: Operation failures that need investigation
  - Example: "command dispatch failed after commit"

Fatal Level:
  - Purpose: Critical startup errors causing process termination
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "raft heartbeat interval must be smaller than election timeout"

# Usage

Initializing the Logger:

	import "github.com/atinyvectors/warren/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("cluster initialized")
	log.Warn("follower lagging behind leader")
	log.Errorf("apply failed", err)
	log.Fatal("invalid raft timing configuration") // exits process

Structured Logging:

	log.Logger.Info().
		Str("space", "s1").
		Int32("version_unique_id", 0).
		Msg("version created")

Context Loggers:

	spaceLog := log.WithSpace("s1")
	spaceLog.Info().Msg("space deleted")

	versionLog := log.WithVersion("s1", 3)
	versionLog.Debug().Msg("vectors upserted")

	termLog := log.WithRaftTerm(7)
	termLog.Info().Msg("leadership acquired")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance, initialized once in main,
    accessible from every package without threading a logger through
    every call.

Context Logger Pattern:
  - Create child loggers carrying space/version/term fields instead of
    repeating them at every call site.

# Security

Never log RBAC token strings, JWT signing keys, or raw vector metadata that
may carry user secrets in a KV payload. Use .Str() for user-controlled
values rather than string concatenation, to avoid log injection.
*/
package log
