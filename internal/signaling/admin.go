package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
)

const maxAdminBodyBytes = 4 << 10

type ensureNamespaceRequest struct {
	Name string `json:"name"`
}

type ensureNamespaceResponse struct {
	Namespace string `json:"namespace"`
}

// RegisterAdminRoutes exposes POST /signaling/namespace, which idempotently
// ensures a namespace exists and answers with its canonical name.
func (r *Relay) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /signaling/namespace", r.handleEnsureNamespace)
}

func (r *Relay) handleEnsureNamespace(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxAdminBodyBytes+1))
	if err != nil {
		httpserver.WriteJSONError(w, http.StatusPreconditionFailed, "precondition_failed", "failed to read request body")
		return
	}
	if len(body) > maxAdminBodyBytes {
		httpserver.WriteJSONError(w, http.StatusPreconditionFailed, "precondition_failed", "request body too large")
		return
	}

	var in ensureNamespaceRequest
	if err := json.Unmarshal(body, &in); err != nil {
		httpserver.WriteJSONError(w, http.StatusPreconditionFailed, "precondition_failed", "invalid JSON body (expected {\"name\":\"...\"})")
		return
	}

	ns, err := r.EnsureNamespace(strings.TrimSpace(in.Name))
	switch {
	case errors.Is(err, ErrInvalidNamespace):
		httpserver.WriteJSONError(w, http.StatusPreconditionFailed, "precondition_failed", err.Error())
		return
	case err != nil:
		httpserver.WriteJSONError(w, http.StatusPreconditionFailed, "precondition_failed", "namespace could not be created")
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, ensureNamespaceResponse{Namespace: ns.Name()})
}
