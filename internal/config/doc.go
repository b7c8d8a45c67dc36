// Package config handles configuration loading for eva-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from EVA_CONFIG environment variable
//  2. ~/.config/eva/gateway.yaml (or $XDG_CONFIG_HOME/eva/gateway.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${EVA_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/eva/gateway.db"
//
//	auth:
//	  jwt_secret: "${EVA_JWT_SECRET}"
//
//	chat:
//	  stream_delay: "15ms"        # pacing between streamed fragments
//	  inference_timeout: "2m"     # upper bound on one model call
//	  system_prompt: "..."        # optional preamble template, {{.Date}} substituted
//
//	websearch:
//	  endpoint: "https://www.googleapis.com/customsearch/v1"
//	  api_key: "${EVA_SEARCH_KEY}"
//	  engine_id: "${EVA_SEARCH_CX}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Duration values use Go's time.ParseDuration syntax.
package config
