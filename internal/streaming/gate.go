// Package streaming decides whether a course segment may be delivered and
// hands authorized requests to a media library.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/metrics"
)

// Reason names the check that denied a request.
type Reason string

const (
	ReasonNoActiveSession Reason = "no_active_session"
	ReasonSessionMismatch Reason = "session_mismatch"
	ReasonNotEntitled     Reason = "not_entitled"
	ReasonNotFound        Reason = "not_found"
)

var (
	// ErrAccessDenied is matched by every authorization denial.
	ErrAccessDenied = errors.New("access denied")
	// ErrMediaNotFound indicates no media file exists for the segment.
	ErrMediaNotFound = errors.New("media not found")
	// ErrInvalidSegment indicates a segment that is not a positive integer.
	ErrInvalidSegment = errors.New("segment must be a positive integer")
)

// DeniedError reports why the gate refused a request. It unwraps to
// ErrMediaNotFound for missing media and ErrAccessDenied otherwise.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error {
	if e.Reason == ReasonNotFound {
		return ErrMediaNotFound
	}
	return ErrAccessDenied
}

// Sessions resolves viewing tokens.
type Sessions interface {
	Lookup(ctx context.Context, token string) (auth.ViewingSession, error)
}

// Entitlements reports whether a user has paid.
type Entitlements interface {
	HasAccess(ctx context.Context, userID int64) (bool, error)
}

// Auditor records granted segment accesses.
type Auditor interface {
	RecordAccess(ctx context.Context, rec AccessRecord)
}

// AccessRecord is the audit entry emitted for each allowed request.
type AccessRecord struct {
	UserID    int64
	Username  string
	Segment   int
	Media     string
	Watermark string
	At        time.Time
}

// Decision is the result of a successful authorization.
type Decision struct {
	Session auth.ViewingSession
	Media   Media
}

// Gate evaluates the access chain for every segment request.
type Gate struct {
	sessions     Sessions
	entitlements Entitlements
	library      Library
	auditor      Auditor
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewGate wires the gate. auditor and m may be nil.
func NewGate(sessions Sessions, ents Entitlements, library Library, auditor Auditor, m *metrics.Metrics) *Gate {
	if sessions == nil || ents == nil || library == nil {
		panic("streaming: sessions, entitlements and library are required")
	}
	return &Gate{
		sessions:     sessions,
		entitlements: ents,
		library:      library,
		auditor:      auditor,
		metrics:      m,
		now:          time.Now,
	}
}

// ParseSegment validates a segment path parameter.
func ParseSegment(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || strconv.Itoa(n) != raw {
		return 0, ErrInvalidSegment
	}
	return n, nil
}

// Authorize runs the checks in order and stops at the first failure:
// active session, session bound to the caller, entitlement re-read from the
// store, then media resolution. Denials are returned as *DeniedError; any
// other error is an infrastructure failure.
func (g *Gate) Authorize(ctx context.Context, token string, userID int64, segment int) (Decision, error) {
	decision, err := g.authorize(ctx, token, userID, segment)

	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		g.metrics.GateDecision(string(denied.Reason))
	case err != nil:
		g.metrics.GateDecision("error")
	default:
		g.metrics.GateDecision("allow")
		g.audit(ctx, decision)
	}
	return decision, err
}

func (g *Gate) authorize(ctx context.Context, token string, userID int64, segment int) (Decision, error) {
	if token == "" {
		return Decision{}, &DeniedError{Reason: ReasonNoActiveSession}
	}
	session, err := g.sessions.Lookup(ctx, token)
	if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrSessionExpired) {
		return Decision{}, &DeniedError{Reason: ReasonNoActiveSession}
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup viewing session: %w", err)
	}

	if session.UserID != userID {
		return Decision{}, &DeniedError{Reason: ReasonSessionMismatch}
	}

	paid, err := g.entitlements.HasAccess(ctx, userID)
	if errors.Is(err, entitlements.ErrUserNotFound) {
		return Decision{}, &DeniedError{Reason: ReasonNotEntitled}
	}
	if err != nil {
		return Decision{}, fmt.Errorf("read entitlement: %w", err)
	}
	if !paid {
		return Decision{}, &DeniedError{Reason: ReasonNotEntitled}
	}

	if segment <= 0 {
		return Decision{}, &DeniedError{Reason: ReasonNotFound}
	}
	media, err := g.library.Resolve(ctx, segment)
	if errors.Is(err, ErrMediaNotFound) {
		return Decision{}, &DeniedError{Reason: ReasonNotFound}
	}
	if err != nil {
		return Decision{}, fmt.Errorf("resolve segment %d: %w", segment, err)
	}

	return Decision{Session: session, Media: media}, nil
}

// Serve streams the authorized media.
func (g *Gate) Serve(w http.ResponseWriter, r *http.Request, d Decision) error {
	return g.library.Serve(w, r, d.Media)
}

func (g *Gate) audit(ctx context.Context, d Decision) {
	if g.auditor == nil {
		return
	}
	g.auditor.RecordAccess(ctx, AccessRecord{
		UserID:    d.Session.UserID,
		Username:  d.Session.Username,
		Segment:   d.Media.Segment,
		Media:     d.Media.Name,
		Watermark: d.Session.Watermark,
		At:        g.now().UTC(),
	})
}
