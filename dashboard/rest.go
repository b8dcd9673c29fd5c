package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentplexus/voiceagent/agent"
	"github.com/agentplexus/voiceagent/store"
)

// RESTServer serves the operator REST surface from spec §6 over the
// access store, call history, and agent registry. Route registration
// follows the mux.Router/HandleFunc/Methods idiom grounded on
// other_examples/shershah1024-pion-whatsapp-bridge__main.go.
type RESTServer struct {
	store    *store.Store
	registry *agent.Registry
	hub      *Hub
}

// NewRESTServer builds the REST surface backed by st and registry,
// publishing blacklist_updated/whitelist_updated dashboard events on
// mutation through hub.
func NewRESTServer(st *store.Store, registry *agent.Registry, hub *Hub) *RESTServer {
	return &RESTServer{store: st, registry: registry, hub: hub}
}

// Router builds the mux.Router for this REST surface.
func (s *RESTServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/agents", s.listAgents).Methods(http.MethodGet)

	r.HandleFunc("/blacklist", s.listBlacklist).Methods(http.MethodGet)
	r.HandleFunc("/blacklist", s.addBlacklist).Methods(http.MethodPost)
	r.HandleFunc("/blacklist/{caller}", s.removeBlacklist).Methods(http.MethodDelete)

	r.HandleFunc("/whitelist", s.listWhitelist).Methods(http.MethodGet)
	r.HandleFunc("/whitelist", s.addWhitelist).Methods(http.MethodPost)
	r.HandleFunc("/whitelist/{caller}", s.removeWhitelist).Methods(http.MethodDelete)

	r.HandleFunc("/calls", s.listCalls).Methods(http.MethodGet)
	r.HandleFunc("/calls/{id}", s.getCall).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.hub.ServeWS)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type agentSummary struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description"`
	Keywords       []string `json:"keywords"`
	PreferredModel string   `json:"preferred_model,omitempty"`
}

func (s *RESTServer) listAgents(w http.ResponseWriter, r *http.Request) {
	descriptors := s.registry.All()
	out := make([]agentSummary, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, agentSummary{
			Name:           d.Name,
			DisplayName:    d.DisplayName,
			Description:    d.Description,
			Keywords:       d.Keywords,
			PreferredModel: d.PreferredModel,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *RESTServer) listBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListBlacklist(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *RESTServer) addBlacklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallerID string `json:"caller_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CallerID == "" {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if err := s.store.AddBlacklist(r.Context(), body.CallerID, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.publish(EventBlacklistUpdated)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) removeBlacklist(w http.ResponseWriter, r *http.Request) {
	caller := mux.Vars(r)["caller"]
	if err := s.store.RemoveBlacklist(r.Context(), caller); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.publish(EventBlacklistUpdated)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) listWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListWhitelist(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *RESTServer) addWhitelist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallerID string `json:"caller_id"`
		Note     string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CallerID == "" {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if err := s.store.AddWhitelist(r.Context(), body.CallerID, body.Note); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.publish(EventWhitelistUpdated)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) removeWhitelist(w http.ResponseWriter, r *http.Request) {
	caller := mux.Vars(r)["caller"]
	if err := s.store.RemoveWhitelist(r.Context(), caller); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.publish(EventWhitelistUpdated)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) listCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.store.ListCalls(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *RESTServer) getCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	call, err := s.store.GetCall(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *RESTServer) publish(evt EventType) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(Event{Type: evt})
}

var errInvalidBody = errBody("caller_id is required")

type errBody string

func (e errBody) Error() string { return string(e) }
