package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/http/response"
)

// triggerResponse is the body returned by a successful enqueue (§6
// "Response HTTP 202 with {status, execution_id, message}").
type triggerResponse struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id"`
	Message     string `json:"message"`
}

// trigger handles POST|PUT|GET /api/v1/{workflow_id}/trigger. The
// request body is the initial event payload for POST/PUT; for GET the
// query string is used instead, since GET requests carry no body by
// convention.
func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow_id")

	var input any
	if r.Method == http.MethodGet {
		input = queryToMap(r.URL.Query())
	} else {
		if err := decodeJSONBody(r, &input); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return
		}
	}

	exec, err := s.exec.CreateExecution(r.Context(), workflowID, "", input)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(triggerResponse{
		Status:      "accepted",
		ExecutionID: exec.ID,
		Message:     "execution enqueued",
	})
}

// jsonArrayResponse reports one execution id per array element, in
// array order, so a caller can match a submitted item to its execution
// (§6 "one execution per element").
type jsonArrayResponse struct {
	Status       string   `json:"status"`
	ExecutionIDs []string `json:"execution_ids"`
	Message      string   `json:"message"`
}

// jsonArray handles POST /api/v1/{workflow_id}/json_array: the body is
// a JSON array, and every element becomes its own execution. All
// executions are enqueued independently — no ordering guarantee across
// them (§6 "no serialization guarantee").
func (s *Server) jsonArray(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow_id")

	var items []any
	if err := decodeJSONBody(r, &items); err != nil {
		response.BadRequest(w, "request body must be a JSON array")
		return
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		exec, err := s.exec.CreateExecution(r.Context(), workflowID, "", item)
		if err != nil {
			response.FromDomainError(w, r, err)
			return
		}
		ids = append(ids, exec.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(jsonArrayResponse{
		Status:       "accepted",
		ExecutionIDs: ids,
		Message:      "executions enqueued",
	})
}

// hilRespond handles GET /api/v1/hil/{node_execution_id}/respond — the
// webhook an operator (or an email/Slack link) hits to resolve a
// pending human-in-the-loop task. Idempotent: a replayed response to an
// already-resolved task is treated as success (§6, §4.7).
func (s *Server) hilRespond(w http.ResponseWriter, r *http.Request) {
	nodeExecutionID := chi.URLParam(r, "node_execution_id")
	q := r.URL.Query()

	decision := domain.HILDecision(q.Get("decision"))
	if decision != domain.HILDecisionApproved && decision != domain.HILDecisionDenied {
		response.BadRequest(w, "decision must be 'approved' or 'denied'")
		return
	}

	payload := map[string]string{}
	if data := q.Get("data"); data != "" {
		payload["data"] = data
	}
	if comments := q.Get("comments"); comments != "" {
		payload["comments"] = comments
	}

	if err := s.hil.Respond(r.Context(), nodeExecutionID, decision, payload); err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.OK(w, map[string]string{"status": "resolved", "decision": string(decision)})
}

func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// queryToMap flattens a query string into a map, single-valued unless a
// key repeats, for use as a GET trigger's event data.
func queryToMap(q map[string][]string) map[string]any {
	out := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}
