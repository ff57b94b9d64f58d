package streaming

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/entitlements"
)

type recordingAuditor struct {
	mu      sync.Mutex
	records []AccessRecord
}

func (a *recordingAuditor) RecordAccess(_ context.Context, rec AccessRecord) {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
}

type gateFixture struct {
	dir     string
	issuer  *auth.Issuer
	ents    *entitlements.Service
	auditor *recordingAuditor
	gate    *Gate
}

func newGateFixture(t *testing.T, users map[int64]bool) *gateFixture {
	t.Helper()
	dir := t.TempDir()
	issuer := auth.NewIssuer(time.Hour, auth.NewInMemorySessionStore(), nil)
	ents := entitlements.NewService(entitlements.NewMemoryStore(users), nil)
	auditor := &recordingAuditor{}
	return &gateFixture{
		dir:     dir,
		issuer:  issuer,
		ents:    ents,
		auditor: auditor,
		gate:    NewGate(issuer, ents, NewFileLibrary(dir), auditor, nil),
	}
}

func (f *gateFixture) writeMedia(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), data, 0o600))
}

func requireDenied(t *testing.T, err error, want Reason) {
	t.Helper()
	var denied *DeniedError
	require.True(t, errors.As(err, &denied), "expected denial, got %v", err)
	assert.Equal(t, want, denied.Reason)
}

// mp4Header is the start of an ISO base media file with an mp4 brand.
var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}

func TestAuthorizeWithoutSession(t *testing.T) {
	f := newGateFixture(t, map[int64]bool{7: true})
	f.writeMedia(t, "3.mp4", mp4Header)

	_, err := f.gate.Authorize(context.Background(), "", 7, 3)
	requireDenied(t, err, ReasonNoActiveSession)

	_, err = f.gate.Authorize(context.Background(), "deadbeef", 7, 3)
	requireDenied(t, err, ReasonNoActiveSession)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, f.auditor.records)
}

func TestAuthorizeRejectsOtherUsersToken(t *testing.T) {
	f := newGateFixture(t, map[int64]bool{1: true, 2: true})
	f.writeMedia(t, "1.mp4", mp4Header)

	session, err := f.issuer.Issue(context.Background(), 1, "alice")
	require.NoError(t, err)

	_, err = f.gate.Authorize(context.Background(), session.Token, 2, 1)
	requireDenied(t, err, ReasonSessionMismatch)

	_, err = f.gate.Authorize(context.Background(), session.Token, 1, 1)
	require.NoError(t, err)
}

func TestAuthorizeAfterRevoke(t *testing.T) {
	f := newGateFixture(t, map[int64]bool{1: true})
	f.writeMedia(t, "1.mp4", mp4Header)

	session, err := f.issuer.Issue(context.Background(), 1, "alice")
	require.NoError(t, err)
	require.NoError(t, f.issuer.Revoke(context.Background(), session.Token))

	_, err = f.gate.Authorize(context.Background(), session.Token, 1, 1)
	requireDenied(t, err, ReasonNoActiveSession)
}

func TestAuthorizeRereadsEntitlement(t *testing.T) {
	f := newGateFixture(t, map[int64]bool{1: true})
	f.writeMedia(t, "1.mp4", mp4Header)

	session, err := f.issuer.Issue(context.Background(), 1, "alice")
	require.NoError(t, err)

	_, err = f.gate.Authorize(context.Background(), session.Token, 1, 1)
	require.NoError(t, err)

	require.NoError(t, f.ents.Set(context.Background(), 1, false))
	_, err = f.gate.Authorize(context.Background(), session.Token, 1, 1)
	requireDenied(t, err, ReasonNotEntitled)
}

func TestAuthorizeMissingSegment(t *testing.T) {
	f := newGateFixture(t, map[int64]bool{1: true})
	session, err := f.issuer.Issue(context.Background(), 1, "alice")
	require.NoError(t, err)

	_, err = f.gate.Authorize(context.Background(), session.Token, 1, 9)
	requireDenied(t, err, ReasonNotFound)
	assert.ErrorIs(t, err, ErrMediaNotFound)

	_, err = f.gate.Authorize(context.Background(), session.Token, 1, 0)
	requireDenied(t, err, ReasonNotFound)
}

func TestAuthorizeAuditsAndServes(t *testing.T) {
	f := newGateFixture(t, map[int64]bool{1: true})
	payload := append(append([]byte{}, mp4Header...), make([]byte, 1000)...)
	f.writeMedia(t, "2.mp4", payload)

	session, err := f.issuer.Issue(context.Background(), 1, "alice")
	require.NoError(t, err)

	decision, err := f.gate.Authorize(context.Background(), session.Token, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", decision.Media.ContentType)

	require.Len(t, f.auditor.records, 1)
	rec := f.auditor.records[0]
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, 2, rec.Segment)
	assert.Equal(t, session.Watermark, rec.Watermark)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/course/videos/2", nil)
	req.Header.Set("Range", "bytes=0-9")
	rec2 := httptest.NewRecorder()
	require.NoError(t, f.gate.Serve(rec2, req, decision))

	assert.Equal(t, http.StatusPartialContent, rec2.Code)
	assert.Equal(t, "video/mp4", rec2.Header().Get("Content-Type"))
	assert.Equal(t, 10, rec2.Body.Len())
}

func TestFileLibraryProbesExtensions(t *testing.T) {
	f := newGateFixture(t, nil)
	f.writeMedia(t, "1.mkv", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x42, 0x82, 0x88, 'm', 'a', 't', 'r', 'o', 's', 'k', 'a'})
	f.writeMedia(t, "4.webm", []byte("not really a video"))

	lib := NewFileLibrary(f.dir)
	m, err := lib.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "1.mkv", m.Name)
	assert.Equal(t, "video/x-matroska", m.ContentType)

	m, err = lib.Resolve(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "video/webm", m.ContentType)

	_, err = lib.Resolve(context.Background(), 5)
	assert.ErrorIs(t, err, ErrMediaNotFound)
}

func TestParseSegment(t *testing.T) {
	n, err := ParseSegment("12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	for _, raw := range []string{"", "0", "-1", "1.5", "abc", "01", "+3"} {
		_, err := ParseSegment(raw)
		assert.ErrorIs(t, err, ErrInvalidSegment, raw)
	}
}
