// Package llm defines the classifier boundary used by the router. The router
// never depends on a specific model provider: every provider under this
// directory turns a Request into raw text that follows the per-purpose JSON
// contract, and parsing (with its mandatory fallbacks) happens in
// internal/intent.
package llm
