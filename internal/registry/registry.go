// Package registry maps hotel ids to the per-hotel agents that answer for them.
//
// The registry is the only structure mutated after startup. Every write builds a
// new map and swaps it in atomically, so readers always see complete entries.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/stream"
)

const (
	// CodeAgentNotFound means no registry row exists for the id.
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
	// CodeHandleUnavailable means the row exists but no live handle could be built.
	CodeHandleUnavailable xerrors.Code = "AGENT_HANDLE_UNAVAILABLE"
)

var (
	// ErrAgentNotFound is matched with errors.Is against Resolve/Handle failures.
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "")
	// ErrHandleUnavailable is matched with errors.Is against Handle failures.
	ErrHandleUnavailable = xerrors.New(CodeHandleUnavailable, "")
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:     "agent not registered",
		Severity:    xerrors.SeverityInfo,
		Recoverable: true,
	})
	xerrors.Register(CodeHandleUnavailable, xerrors.Attributes{
		Message:     "agent handle unavailable",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
		Alert:       true,
	})
}

// Entry is the static profile of a per-hotel agent.
type Entry struct {
	ID            string `yaml:"id" json:"id"`
	DisplayName   string `yaml:"name" json:"name"`
	EndpointURL   string `yaml:"url" json:"url"`
	Description   string `yaml:"description" json:"description,omitempty"`
	WalletAddress string `yaml:"wallet" json:"walletAddress,omitempty"`
}

// CardURL returns the discovery card location for the agent.
func (e Entry) CardURL() string {
	return strings.TrimRight(e.EndpointURL, "/") + "/.well-known/agent.json"
}

// PublicEntry is the discovery view of an entry.
type PublicEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	CardURL string `json:"cardUrl"`
}

// Handle streams a message to a downstream agent and returns the raw event stream body.
type Handle interface {
	Stream(ctx context.Context, msg stream.Message) (io.ReadCloser, error)
}

// HandleFactory builds the live handle for an entry.
type HandleFactory func(entry Entry) (Handle, error)

// record pairs an immutable entry with its lazily created handle.
type record struct {
	entry Entry

	mu     sync.Mutex
	handle Handle
}

// Registry resolves hotel ids to agent entries.
type Registry struct {
	entries atomic.Pointer[map[string]*record]
	writeMu sync.Mutex
	factory HandleFactory
}

// New creates a registry seeded with the given entries.
func New(factory HandleFactory, entries ...Entry) (*Registry, error) {
	r := &Registry{factory: factory}
	initial := make(map[string]*record, len(entries))
	for _, entry := range entries {
		normalized, err := normalize(entry)
		if err != nil {
			return nil, err
		}
		initial[normalized.ID] = &record{entry: normalized}
	}
	r.entries.Store(&initial)
	return r, nil
}

// Resolve returns the entry registered under id.
func (r *Registry) Resolve(id string) (Entry, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return Entry{}, xerrors.New(CodeAgentNotFound, fmt.Sprintf("agent %q not registered", id))
	}
	return rec.entry, nil
}

// Register adds or replaces an entry. Last write wins; fields are never merged.
func (r *Registry) Register(entry Entry) error {
	normalized, err := normalize(entry)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot()
	next := make(map[string]*record, len(current)+1)
	for id, rec := range current {
		next[id] = rec
	}
	next[normalized.ID] = &record{entry: normalized}
	r.entries.Store(&next)
	return nil
}

// Handle returns the cached handle for id, building it on first use.
// A failed build is not cached so a later call can retry.
func (r *Registry) Handle(id string) (Handle, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return nil, xerrors.New(CodeAgentNotFound, fmt.Sprintf("agent %q not registered", id))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.handle != nil {
		return rec.handle, nil
	}
	if r.factory == nil {
		return nil, xerrors.New(CodeHandleUnavailable, "no handle factory configured")
	}
	handle, err := r.factory(rec.entry)
	if err != nil {
		return nil, xerrors.Wrap(CodeHandleUnavailable, err, fmt.Sprintf("agent %q handle unavailable", id))
	}
	if handle == nil {
		return nil, xerrors.New(CodeHandleUnavailable, fmt.Sprintf("agent %q handle unavailable", id))
	}
	rec.handle = handle
	return handle, nil
}

// Entries returns all entries sorted by id.
func (r *Registry) Entries() []Entry {
	current := r.snapshot()
	out := make([]Entry, 0, len(current))
	for _, rec := range current {
		out = append(out, rec.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListPublic returns the discovery view of all entries sorted by id.
func (r *Registry) ListPublic() []PublicEntry {
	entries := r.Entries()
	out := make([]PublicEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, PublicEntry{
			ID:      entry.ID,
			Name:    entry.DisplayName,
			URL:     entry.EndpointURL,
			CardURL: entry.CardURL(),
		})
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.snapshot())
}

func (r *Registry) lookup(id string) (*record, bool) {
	rec, ok := r.snapshot()[strings.TrimSpace(id)]
	return rec, ok
}

func (r *Registry) snapshot() map[string]*record {
	current := r.entries.Load()
	if current == nil {
		return nil
	}
	return *current
}

// Validate returns the entry as Register would store it, or the reason Register
// would reject it. It never touches the registry.
func Validate(entry Entry) (Entry, error) {
	return normalize(entry)
}

func normalize(entry Entry) (Entry, error) {
	entry.ID = strings.TrimSpace(entry.ID)
	entry.DisplayName = strings.TrimSpace(entry.DisplayName)
	entry.EndpointURL = strings.TrimRight(strings.TrimSpace(entry.EndpointURL), "/")
	if entry.ID == "" {
		return Entry{}, xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	parsed, err := url.Parse(entry.EndpointURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Entry{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("agent %q has an invalid endpoint url", entry.ID))
	}
	if entry.DisplayName == "" {
		entry.DisplayName = entry.ID
	}
	return entry, nil
}
