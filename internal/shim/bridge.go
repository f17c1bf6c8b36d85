package shim

import (
	"io"
	"os"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tallr-dev/tallrd/internal/log"
)

// pendingPermissionTTL bounds how long an outstanding permission-request is
// tracked before it's considered abandoned (e.g. the agent crashed mid
// tool-call), so the correlation cache never grows unbounded.
const pendingPermissionTTL = 10 * time.Minute

// Event is the subset of a Message the caller needs to translate into a
// controlplane.DetectionEvent, kept independent of that package so shim has
// no import-time dependency on the tracker.
type Event struct {
	Type      MessageType
	ID        string
	Hostname  string
	Path      string
	Method    string
	Tool      *Tool
	Content   string
}

// Bridge owns the fd3/fd4 pair for one supervised Claude child and
// translates the descriptor protocol into Events.
type Bridge struct {
	reader  *Reader
	writer  *Writer
	pending *gocache.Cache
}

// NewBridge wraps the supervisor's ends of descriptor 3 (read) and
// descriptor 4 (write).
func NewBridge(fd3, fd4 *os.File) *Bridge {
	return &Bridge{
		reader:  NewReader(fd3),
		writer:  NewWriter(fd4),
		pending: gocache.New(pendingPermissionTTL, pendingPermissionTTL/2),
	}
}

// Run reads messages from fd 3 until it closes or a protocol error forces
// detachment, invoking onEvent for each one. It returns when the channel is
// exhausted; the caller should then fall back to C2-only detection for the
// remainder of the child's lifetime.
func (b *Bridge) Run(onEvent func(Event)) error {
	for {
		msg, err := b.reader.Next()
		if err != nil {
			if err == io.EOF {
				log.Debug(log.CatNetwork, "shim descriptor closed")
				return nil
			}
			log.Warn(log.CatNetwork, "detaching shim descriptor", "error", err)
			return err
		}

		if msg.Type == TypePermissionRequest {
			b.pending.SetDefault(msg.ID.String(), struct{}{})
		}

		onEvent(Event{
			Type:     msg.Type,
			ID:       msg.ID.String(),
			Hostname: msg.Hostname,
			Path:     msg.Path,
			Method:   msg.Method,
			Tool:     msg.Tool,
			Content:  msg.Content,
		})
	}
}

// Respond sends a permission decision for id. It is a no-op (logged, not
// errored) if id was never seen as a permission-request or has already
// expired from the correlation cache, since a stale decision for an
// abandoned request has nowhere useful to go.
func (b *Bridge) Respond(id string, allow bool) error {
	if _, found := b.pending.Get(id); !found {
		log.Debug(log.CatNetwork, "permission response for unknown or expired request", "id", id)
		return nil
	}
	b.pending.Delete(id)

	decision := DecisionDeny
	if allow {
		decision = DecisionAllow
	}
	return b.writer.WritePermissionResponse(id, decision)
}

// DenyAll sends a deny decision for every outstanding permission-request,
// used to unblock the child during supervisor shutdown (§5's cancellation
// rule: a pending round trip is cancelled with {decision: "deny"}).
func (b *Bridge) DenyAll() {
	for id := range b.pending.Items() {
		_ = b.Respond(id, false)
	}
}

// ParseFetchID converts a fetch-start/fetch-end numeric id into an int64 for
// callers that want to key in-flight bookkeeping off it directly.
func ParseFetchID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
