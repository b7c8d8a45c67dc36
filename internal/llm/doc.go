// Package llm wraps model inference: streaming completions against Azure
// OpenAI deployments or OpenAI-compatible endpoints, transparent tool-call
// rounds for attached capabilities, content-filter detection, and
// best-effort token counting.
package llm
