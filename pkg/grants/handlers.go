package grants

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/AGoodId/guardian/pkg/audit"
	"github.com/AGoodId/guardian/pkg/catalog"
	"github.com/AGoodId/guardian/pkg/httputil"
	"github.com/AGoodId/guardian/pkg/observability"
)

// Handlers provides HTTP handlers for grant management operations
type Handlers struct {
	registry    *catalog.Registry
	store       *SQLStore
	grantStore  Store
	reconciler  *Reconciler
	checker     *Checker
	resolver    *Resolver
	auditLogger audit.Logger
	metrics     *observability.Metrics
	gate        *ObjectPermissionMiddleware
}

// NewHandlers creates grant handlers. grantStore is the store used for
// reconciliation and checks and may be a caching layer over store.
func NewHandlers(registry *catalog.Registry, store *SQLStore, grantStore Store, checker *Checker, auditLogger audit.Logger) *Handlers {
	if grantStore == nil {
		grantStore = store
	}
	return &Handlers{
		registry:    registry,
		store:       store,
		grantStore:  grantStore,
		reconciler:  NewReconciler(registry, grantStore),
		checker:     checker,
		resolver:    NewResolver(store),
		auditLogger: auditLogger,
	}
}

// WithMetrics attaches domain counters, shared with the reconciler.
// Either argument may be nil.
func (h *Handlers) WithMetrics(m *observability.Metrics, om *observability.OTelMetrics) *Handlers {
	h.metrics = m
	h.reconciler.WithMetrics(m, om)
	return h
}

// WithGate enables object-permission gating: grant mutations require the
// acting principal to hold change_<type> on the routed object.
func (h *Handlers) WithGate(gate *ObjectPermissionMiddleware) *Handlers {
	h.gate = gate
	return h
}

// RegisterRoutes registers all grant management routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permission catalog
	router.HandleFunc("/catalog", h.ListTypes).Methods("GET")
	router.HandleFunc("/catalog/{type}", h.GetCatalog).Methods("GET")

	// Principal directory
	router.HandleFunc("/principals", h.CreatePrincipal).Methods("POST")
	router.HandleFunc("/principals/{kind}", h.ListPrincipals).Methods("GET")
	router.HandleFunc("/principals/{kind}/{pid}", h.DeletePrincipal).Methods("DELETE")

	// Object registration
	router.HandleFunc("/objects", h.CreateObject).Methods("POST")
	router.HandleFunc("/objects/{type}/{id}", h.DeleteObject).Methods("DELETE")

	// Grant management. Mutations are gated on change_<type> when a gate
	// is configured.
	router.Handle("/objects/{type}/{id}/grants", h.gated(h.AddPrincipal)).Methods("POST")
	router.HandleFunc("/objects/{type}/{id}/grants", h.ListObjectGrants).Methods("GET")
	router.HandleFunc("/objects/{type}/{id}/permissions/{codename}/principals", h.ListPrincipalsWithGrant).Methods("GET")
	router.HandleFunc("/objects/{type}/{id}/principals/{kind}/{pid}/grants", h.GetGrants).Methods("GET")
	router.Handle("/objects/{type}/{id}/principals/{kind}/{pid}/grants", h.gated(h.Reconcile)).Methods("PUT")
	router.Handle("/objects/{type}/{id}/principals/{kind}/{pid}/grants/{codename}", h.gated(h.RemoveGrant)).Methods("DELETE")

	// Permission checking
	router.HandleFunc("/check", h.CheckPermission).Methods("POST")
}

// gated wraps a grant mutation with the object-permission check when a gate
// is configured, and passes it through untouched otherwise.
func (h *Handlers) gated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.gate == nil {
			next(w, r)
			return
		}
		h.gate.RequireObjectPermission("change")(next).ServeHTTP(w, r)
	})
}

// ListTypes lists all registered object types
func (h *Handlers) ListTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"types": h.registry.Types(),
	})
}

// GetCatalog returns the permission catalog for an object type
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	objectType := mux.Vars(r)["type"]

	perms, err := h.registry.Permissions(objectType)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"type":        objectType,
		"permissions": perms,
	})
}

// CreatePrincipal registers a user or group in the principal directory
func (h *Handlers) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Kind PrincipalKind `json:"kind"`
		ID   string        `json:"id"`
		Name string        `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Kind.Valid() {
		httputil.WriteBadRequest(w, "kind must be user or group")
		return
	}
	if !httputil.RequireNonEmpty(w, req.ID, "id") {
		return
	}

	principal := &Principal{Kind: req.Kind, ID: req.ID, Name: req.Name}
	if err := h.store.CreatePrincipal(ctx, principal); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypePrincipalCreate, audit.EventStatusSuccess, principal.String(), "", nil, nil)

	httputil.WriteCreated(w, principal)
}

// ListPrincipals lists registered principals of a kind
func (h *Handlers) ListPrincipals(w http.ResponseWriter, r *http.Request) {
	kind := PrincipalKind(mux.Vars(r)["kind"])
	if !kind.Valid() {
		httputil.WriteBadRequest(w, "kind must be user or group")
		return
	}

	principals, err := h.store.ListPrincipals(r.Context(), kind)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if principals == nil {
		principals = []Principal{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"kind":       kind,
		"principals": principals,
	})
}

// DeletePrincipal removes a principal from the directory
func (h *Handlers) DeletePrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	kind := PrincipalKind(vars["kind"])
	if !kind.Valid() {
		httputil.WriteBadRequest(w, "kind must be user or group")
		return
	}

	if err := h.store.DeletePrincipal(ctx, kind, vars["pid"]); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	ref := Principal{Kind: kind, ID: vars["pid"]}.String()
	h.logAudit(ctx, r, audit.EventTypePrincipalDelete, audit.EventStatusSuccess, ref, "", nil, nil)

	httputil.WriteNoContent(w)
}

// CreateObject registers a domain object
func (h *Handlers) CreateObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Type, "type") || !httputil.RequireNonEmpty(w, req.ID, "id") {
		return
	}

	// Only cataloged types can carry grants
	if _, err := h.registry.Permissions(req.Type); err != nil {
		h.writeDomainError(w, err)
		return
	}

	obj := ObjectRef{Type: req.Type, ID: req.ID}
	if err := h.store.CreateObject(ctx, obj); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeObjectCreate, audit.EventStatusSuccess, "", obj.String(), nil, nil)

	httputil.WriteCreated(w, obj)
}

// DeleteObject removes an object registration
func (h *Handlers) DeleteObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	obj := ObjectRef{Type: vars["type"], ID: vars["id"]}
	if err := h.store.DeleteObject(ctx, obj); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeObjectDelete, audit.EventStatusSuccess, "", obj.String(), nil, nil)

	httputil.WriteNoContent(w)
}

// GetGrants returns the principal's catalog-scoped grants on an object
func (h *Handlers) GetGrants(w http.ResponseWriter, r *http.Request) {
	principal, object, ok := h.parseGrantPath(w, r)
	if !ok {
		return
	}

	codenames, err := h.reconciler.CurrentGrants(r.Context(), principal, object)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if codenames == nil {
		codenames = []string{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal":   principal,
		"object":      object,
		"permissions": codenames,
	})
}

// Reconcile replaces the principal's grants on an object with the desired
// set carried in the request body. The body is full state: permissions left
// out are removed.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, object, ok := h.parseGrantPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	// Desired set validation happens here, not in the engine
	for _, code := range req.Permissions {
		inCatalog, err := h.registry.Contains(object.Type, code)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if !inCatalog {
			httputil.WriteBadRequest(w, "permission not in catalog: "+code)
			return
		}
	}

	if err := h.reconciler.Reconcile(ctx, principal, object, req.Permissions); err != nil {
		h.logAudit(ctx, r, audit.EventTypeGrantReconcile, audit.EventStatusFailure, principal.String(), object.String(), req.Permissions, err)
		h.writeDomainError(w, err)
		return
	}

	if h.checker != nil {
		h.checker.Invalidate(principal, object)
	}

	h.logAudit(ctx, r, audit.EventTypeGrantReconcile, audit.EventStatusSuccess, principal.String(), object.String(), req.Permissions, nil)

	codenames, err := h.reconciler.CurrentGrants(ctx, principal, object)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if codenames == nil {
		codenames = []string{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal":   principal,
		"object":      object,
		"permissions": codenames,
	})
}

// AddPrincipal resolves a principal against the directory and gives it an
// initial grant set on the object.
func (h *Handlers) AddPrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	object := ObjectRef{Type: vars["type"], ID: vars["id"]}

	var req struct {
		PrincipalKind PrincipalKind `json:"principal_kind"`
		PrincipalID   string        `json:"principal_id"`
		Permissions   []string      `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.PrincipalKind.Valid() {
		httputil.WriteBadRequest(w, "principal_kind must be user or group")
		return
	}
	if !httputil.RequireNonEmpty(w, req.PrincipalID, "principal_id") {
		return
	}

	principal, err := h.resolver.Resolve(ctx, Principal{Kind: req.PrincipalKind, ID: req.PrincipalID})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	for _, code := range req.Permissions {
		inCatalog, err := h.registry.Contains(object.Type, code)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if !inCatalog {
			httputil.WriteBadRequest(w, "permission not in catalog: "+code)
			return
		}
	}

	if err := h.reconciler.Reconcile(ctx, principal, object, req.Permissions); err != nil {
		h.logAudit(ctx, r, audit.EventTypeGrantAssign, audit.EventStatusFailure, principal.String(), object.String(), req.Permissions, err)
		h.writeDomainError(w, err)
		return
	}

	if h.checker != nil {
		h.checker.Invalidate(principal, object)
	}

	h.logAudit(ctx, r, audit.EventTypeGrantAssign, audit.EventStatusSuccess, principal.String(), object.String(), req.Permissions, nil)

	httputil.WriteCreated(w, map[string]interface{}{
		"principal":   principal,
		"object":      object,
		"permissions": req.Permissions,
	})
}

// RemoveGrant revokes a single grant without touching the rest of the
// principal's set.
func (h *Handlers) RemoveGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, object, ok := h.parseGrantPath(w, r)
	if !ok {
		return
	}
	codename := mux.Vars(r)["codename"]

	inCatalog, err := h.registry.Contains(object.Type, codename)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !inCatalog {
		httputil.WriteBadRequest(w, "permission not in catalog: "+codename)
		return
	}

	if err := h.grantStore.Remove(ctx, codename, principal, object); err != nil {
		h.logAudit(ctx, r, audit.EventTypeGrantRevoke, audit.EventStatusFailure, principal.String(), object.String(), []string{codename}, err)
		h.writeDomainError(w, err)
		return
	}

	if h.checker != nil {
		h.checker.Invalidate(principal, object)
	}
	if h.metrics != nil {
		h.metrics.GrantRemovalsTotal.WithLabelValues(object.Type).Inc()
	}

	h.logAudit(ctx, r, audit.EventTypeGrantRevoke, audit.EventStatusSuccess, principal.String(), object.String(), []string{codename}, nil)

	httputil.WriteNoContent(w)
}

// ListObjectGrants returns every grant recorded against an object
func (h *Handlers) ListObjectGrants(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	object := ObjectRef{Type: vars["type"], ID: vars["id"]}

	grants, err := h.store.GrantsForObject(r.Context(), object)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if grants == nil {
		grants = []Grant{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"object": object,
		"grants": grants,
	})
}

// ListPrincipalsWithGrant returns the principals holding a codename on an object
func (h *Handlers) ListPrincipalsWithGrant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	object := ObjectRef{Type: vars["type"], ID: vars["id"]}
	codename := vars["codename"]

	principals, err := h.store.PrincipalsWithGrant(r.Context(), object, codename)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if principals == nil {
		principals = []Principal{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"object":     object,
		"codename":   codename,
		"principals": principals,
	})
}

// CheckPermission answers a single object-level permission check
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal Principal `json:"principal"`
		Object    ObjectRef `json:"object"`
		Codename  string    `json:"codename"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Principal.Kind.Valid() {
		httputil.WriteBadRequest(w, "principal kind must be user or group")
		return
	}
	if !httputil.RequireNonEmpty(w, req.Codename, "codename") {
		return
	}

	allowed, err := h.checker.HasPermission(r.Context(), req.Principal, req.Object, req.Codename)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal": req.Principal.Ref(),
		"object":    req.Object,
		"codename":  req.Codename,
		"allowed":   allowed,
	})
}

// parseGrantPath extracts the (principal, object) pair from the request path
func (h *Handlers) parseGrantPath(w http.ResponseWriter, r *http.Request) (Principal, ObjectRef, bool) {
	vars := mux.Vars(r)

	kind := PrincipalKind(vars["kind"])
	if !kind.Valid() {
		httputil.WriteBadRequest(w, "kind must be user or group")
		return Principal{}, ObjectRef{}, false
	}

	principal := Principal{Kind: kind, ID: vars["pid"]}
	object := ObjectRef{Type: vars["type"], ID: vars["id"]}
	return principal, object, true
}

// writeDomainError maps domain errors to HTTP responses
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	var unknownType *catalog.UnknownTypeError
	var lookupErr *LookupError
	var notFound *NotFoundError
	var storeErr *StoreOperationError

	switch {
	case errors.As(err, &unknownType):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.As(err, &lookupErr):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.As(err, &notFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.As(err, &storeErr):
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// logAudit records an audit event for a mutating operation
func (h *Handlers) logAudit(ctx context.Context, r *http.Request, eventType audit.EventType, status audit.EventStatus, principalRef, objectRef string, codenames []string, opErr error) {
	if h.auditLogger == nil {
		return
	}

	event := &audit.Event{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       status,
		ActorKind:    r.Header.Get("X-Actor-Kind"),
		ActorID:      r.Header.Get("X-Actor-ID"),
		PrincipalRef: principalRef,
		ObjectRef:    objectRef,
		Codenames:    codenames,
		RequestID:    observability.GetRequestID(ctx),
		IPAddress:    r.RemoteAddr,
		Method:       r.Method,
		Path:         r.URL.Path,
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	}

	if h.metrics != nil {
		h.metrics.AuditEventsTotal.WithLabelValues(string(eventType), string(status)).Inc()
	}

	if err := h.auditLogger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
