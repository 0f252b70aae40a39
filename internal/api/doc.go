// Package api exposes the router over HTTP: streaming task submission, agent
// discovery and registration, task records, the router's own agent card and
// operational endpoints.
package api
