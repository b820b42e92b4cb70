package statusapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperbloom/engine/pkg/session"
	"github.com/hyperbloom/engine/pkg/trust"
	"github.com/stretchr/testify/assert"
)

type stubCrypto struct{}

func (stubCrypto) Sign(msgHash, privateKey []byte) ([]byte, error) { return nil, nil }
func (stubCrypto) Verify(msgHash, signature, publicKey []byte) bool { return true }
func (stubCrypto) Hash(key, input []byte) ([]byte, error)          { return make([]byte, 32), nil }
func (stubCrypto) RandomBytes(n int) ([]byte, error)               { return make([]byte, n), nil }

func TestHandleSessionsEmpty(t *testing.T) {
	registry := NewRegistry()
	server := NewServer(registry, DefaultConfig())

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []SessionView `json:"sessions"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Sessions)
}

func TestHandleSessionsReportsTrackedSession(t *testing.T) {
	registry := NewRegistry()
	s := session.New(trust.NewVerifier(stubCrypto{}))
	registry.Track("peer-a", s)

	server := NewServer(registry, DefaultConfig())
	req := httptest.NewRequest("GET", "/sessions", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []SessionView `json:"sessions"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Sessions, 1)
	assert.Equal(t, "peer-a", body.Sessions[0].Name)
	assert.Equal(t, "init", body.Sessions[0].State)
	assert.False(t, body.Sessions[0].Secure)
	assert.Equal(t, 0, body.Sessions[0].ChainLength)
	assert.Empty(t, body.Sessions[0].RemoteID)
}

func TestUntrackRemovesSession(t *testing.T) {
	registry := NewRegistry()
	s := session.New(trust.NewVerifier(stubCrypto{}))
	registry.Track("peer-a", s)
	registry.Untrack("peer-a")

	server := NewServer(registry, DefaultConfig())
	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	var body struct {
		Sessions []SessionView `json:"sessions"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Sessions)
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(NewRegistry(), nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSnapshotRemoteIDEmptyBeforeSecure(t *testing.T) {
	registry := NewRegistry()
	s := session.New(trust.NewVerifier(stubCrypto{}))
	registry.Track("peer-a", s)

	views := registry.snapshot()
	assert.Len(t, views, 1)
	// a freshly constructed session has no remote id yet.
	assert.Equal(t, "", views[0].RemoteID)
	_, err := hex.DecodeString(views[0].RemoteID + "00")
	assert.NoError(t, err)
}
