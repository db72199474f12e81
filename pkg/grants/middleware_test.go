package grants

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AGoodId/guardian/pkg/audit"
	"github.com/AGoodId/guardian/pkg/catalog"
)

func setupGatedHandlers(t *testing.T) (*mux.Router, *SQLStore, *mockAuditLogger) {
	t.Helper()

	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	registry := catalog.NewRegistry()
	if err := registry.Register("post", catalog.DefaultPermissions("post")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	store := NewSQLStore(db)
	checker, err := NewChecker(store, 16)
	require.NoError(t, err)

	auditLogger := &mockAuditLogger{}
	handlers := NewHandlers(registry, store, nil, checker, auditLogger).
		WithGate(NewObjectPermissionMiddleware(checker, auditLogger))

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	ctx := context.Background()
	admin := Principal{Kind: KindUser, ID: "admin"}
	alice := Principal{Kind: KindUser, ID: "alice"}
	post := ObjectRef{Type: "post", ID: "7"}

	require.NoError(t, store.CreatePrincipal(ctx, &admin))
	require.NoError(t, store.CreatePrincipal(ctx, &alice))
	require.NoError(t, store.CreateObject(ctx, post))
	require.NoError(t, store.Assign(ctx, "change_post", admin, post))

	return router, store, auditLogger
}

func doRequestAs(t *testing.T, router *mux.Router, method, path string, body interface{}, actorKind, actorID string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if actorKind != "" {
		req.Header.Set("X-Actor-Kind", actorKind)
	}
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestObjectPermissionGate_AllowsGrantHolder(t *testing.T) {
	router, _, _ := setupGatedHandlers(t)

	w := doRequestAs(t, router, "PUT", "/objects/post/7/principals/user/alice/grants",
		map[string]interface{}{"permissions": []string{"view_post"}}, "user", "admin")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestObjectPermissionGate_DeniesWithoutGrant(t *testing.T) {
	router, _, auditLogger := setupGatedHandlers(t)

	w := doRequestAs(t, router, "PUT", "/objects/post/7/principals/user/alice/grants",
		map[string]interface{}{"permissions": []string{"view_post"}}, "user", "alice")

	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Len(t, auditLogger.events, 1)
	event := auditLogger.events[0]
	assert.Equal(t, audit.EventTypeAccessDenied, event.EventType)
	assert.Equal(t, audit.EventStatusDenied, event.Status)
	assert.Equal(t, "alice", event.ActorID)
	assert.Equal(t, "post:7", event.ObjectRef)
	assert.Equal(t, []string{"change_post"}, event.Codenames)
}

func TestObjectPermissionGate_RequiresActorAttribution(t *testing.T) {
	router, _, auditLogger := setupGatedHandlers(t)

	w := doRequestAs(t, router, "PUT", "/objects/post/7/principals/user/alice/grants",
		map[string]interface{}{"permissions": []string{"view_post"}}, "", "")

	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Len(t, auditLogger.events, 1)
	assert.Equal(t, audit.EventTypeAccessDenied, auditLogger.events[0].EventType)
	assert.Equal(t, audit.EventStatusDenied, auditLogger.events[0].Status)
}

func TestObjectPermissionGate_GatesRemoveGrant(t *testing.T) {
	router, _, _ := setupGatedHandlers(t)

	w := doRequestAs(t, router, "DELETE", "/objects/post/7/principals/user/admin/grants/change_post",
		nil, "user", "alice")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestObjectPermissionGate_ReadsAreUngated(t *testing.T) {
	router, _, _ := setupGatedHandlers(t)

	w := doRequestAs(t, router, "GET", "/objects/post/7/principals/user/admin/grants",
		nil, "user", "alice")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestObjectPermissionGate_DisabledByDefault(t *testing.T) {
	_, router, store, _ := setupTestHandlers(t)

	ctx := context.Background()
	alice := Principal{Kind: KindUser, ID: "alice"}
	post := ObjectRef{Type: "post", ID: "7"}
	require.NoError(t, store.CreatePrincipal(ctx, &alice))
	require.NoError(t, store.CreateObject(ctx, post))

	// No gate configured: any attributed actor can mutate
	w := doRequest(t, router, "PUT", "/objects/post/7/principals/user/alice/grants",
		map[string]interface{}{"permissions": []string{"view_post"}})

	assert.Equal(t, http.StatusOK, w.Code)
}
