// Package nestor is a supervised multi-agent assistant runtime.
//
// Nestor answers a user request by running a delegation loop: a
// supervising LLM repeatedly decides whether to hand a focused sub-task
// to one of three specialist workers (web research, task management,
// email drafting) or to finalize with a synthesized answer. Worker
// results accumulate in an append-only shared state that informs every
// following decision, a hard iteration cap bounds the loop, and the
// final answer streams to the caller as the model produces it.
//
// # Quick Start
//
// Install Nestor:
//
//	go install github.com/kadirpekel/nestor/cmd/nestor@latest
//
// Create a minimal configuration:
//
//	yaml
//	llms:
//	  gpt-4o:
//	    type: "openai"
//	    model: "gpt-4o-mini"
//	    api_key: "${OPENAI_API_KEY}"
//
//	supervisor:
//	  llm: "gpt-4o"
//
// Start the server, or run a request in-process:
//
//	nestor serve --config nestor.yaml
//	nestor call "research Go 1.24 release notes and draft a summary email"
//
// # Using as Go Library
//
// Import the packages you need:
//
//	import (
//	    "github.com/kadirpekel/nestor/pkg/config"
//	    "github.com/kadirpekel/nestor/pkg/runtime"
//	    "github.com/kadirpekel/nestor/pkg/supervisor"
//	)
//
// Build a runtime from configuration and run requests through it:
//
//	cfg, err := config.NewLoader(provider).Load(ctx)
//	rt, err := runtime.New(cfg)
//	defer rt.Close()
//	state, err := rt.Call(ctx, supervisor.Request{Query: "..."}, os.Stdout)
//
// # Architecture
//
// One request flows through one supervisor loop:
//
//	Client → HTTP Server (SSE) → Supervisor Loop → Decision Oracle (LLM)
//	                                  ↓ delegate
//	                              Worker (research | tasks | email)
//	                                  ↓ result appended to shared state
//	                              next decision ... → finalize → stream
//
// Workers wrap their own tool calls (web search, Asana, Gmail drafts)
// behind a single textual result; the supervisor only ever sees that
// text. Sessions, the run archive, recall memory, JWT auth, rate
// limiting, and metrics are optional subsystems enabled by
// configuration.
//
// # Documentation
//
// For complete documentation, see:
//   - [README](https://github.com/kadirpekel/nestor/blob/main/README.md)
//   - [API Reference](https://godoc.org/github.com/kadirpekel/nestor)
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package nestor
