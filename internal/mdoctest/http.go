package mdoctest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/mdoc-wallet/internal/logfields"
	"github.com/kokukuma/mdoc-wallet/pkg/cborhttp"
)

const maxBodySize = 4 << 20

// NewSessionResponse is returned by POST /sessions.
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
	// ReaderEngagement is base64url encoded without padding.
	ReaderEngagement string `json:"readerEngagement"`
}

type ResultResponse struct {
	Terminated bool                `json:"terminated"`
	Error      string              `json:"error,omitempty"`
	Documents  []DisclosedDocument `json:"documents,omitempty"`
}

type DisclosedDocument struct {
	DocType    string                            `json:"docType"`
	Attributes map[string]map[string]interface{} `json:"attributes"`
}

// RegisterRoutes adds the verifier endpoints to r.
func (v *Verifier) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sessions", v.handleNewSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}", v.handleSessionMessage).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}/result", v.handleResult).Methods(http.MethodGet)
}

func (v *Verifier) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id, readerEngagement, err := v.NewSession(r.Context())
	if err != nil {
		logger.Errorc(r.Context(), "failed to create session", log.WithError(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, NewSessionResponse{
		SessionID:        id,
		ReaderEngagement: base64.RawURLEncoding.EncodeToString(readerEngagement),
	})
}

func (v *Verifier) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionID"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply, err := v.HandleMessage(r.Context(), id, body)
	if err != nil {
		logger.Warnc(r.Context(), "failed to handle holder message", logfields.WithSessionID(id), log.WithError(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", cborhttp.ContentType)
	_, _ = w.Write(reply)
}

func (v *Verifier) handleResult(w http.ResponseWriter, r *http.Request) {
	result, ok := v.Result(mux.Vars(r)["sessionID"])
	if !ok {
		http.Error(w, "no result", http.StatusNotFound)
		return
	}

	resp := ResultResponse{Terminated: result.Terminated}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	for _, doc := range result.Documents {
		disclosed := DisclosedDocument{DocType: string(doc.DocType), Attributes: map[string]map[string]interface{}{}}
		for _, ns := range doc.IssuerSigned.GetNameSpaces() {
			items, err := doc.IssuerSigned.GetIssuerSignedItems(ns)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			values := map[string]interface{}{}
			for _, item := range items {
				values[string(item.ElementIdentifier)] = item.ElementValue
			}
			disclosed.Attributes[string(ns)] = values
		}
		resp.Documents = append(resp.Documents, disclosed)
	}

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
