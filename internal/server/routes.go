package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/engine"
)

// maxFacts bounds the facts one request may activate, explicit and parsed
// from text combined. Keep in step with the max=200 validate tags.
const maxFacts = 200

type recallRequest struct {
	Facts []string `json:"facts" validate:"max=200"`
	Text  string   `json:"text" validate:"max=200000"`
	TopK  int      `json:"top_k" validate:"gte=0,lte=1000"`
}

type factsRequest struct {
	Facts []string `json:"facts" validate:"required,min=1,max=200"`
}

type activeNode struct {
	ID           int64     `json:"id"`
	Memory       string    `json:"memory"`
	Activation   float64   `json:"activation"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func toActiveNodes(nodes []engine.ActiveNode) []activeNode {
	out := make([]activeNode, len(nodes))
	for i, n := range nodes {
		out[i] = activeNode{
			ID:           n.Node.ID,
			Memory:       n.Node.Memory,
			Activation:   n.Activation,
			CreatedAt:    n.Node.CreatedAt,
			LastActiveAt: n.Node.LastActiveAt,
		}
	}
	return out
}

func (s *Server) requireConversationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		if err := s.validate.Var(id, "required,max=128,printascii"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"conversation": uuid.NewString()})
}

// handleRecall runs one full cycle: activate every fact, spread, and return
// the top of the working set along with the formatted memory block.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req recallRequest
	if !s.decode(w, r, &req) {
		return
	}
	facts, err := collectFacts(req.Facts, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var nodes []engine.ActiveNode
	err = s.reg.With(id, func(n *engine.Network) error {
		var err error
		nodes, err = n.Recall(r.Context(), facts, req.TopK)
		return err
	})
	if err != nil {
		s.writeEngineError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": id,
		"facts":        len(facts),
		"nodes":        toActiveNodes(nodes),
		"memories":     engine.FormatMemories(nodes, s.now()),
	})
}

// handleActivateFacts activates facts without running a cycle, for callers
// that batch several turns before spreading.
func (s *Server) handleActivateFacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req factsRequest
	if !s.decode(w, r, &req) {
		return
	}
	facts, err := collectFacts(req.Facts, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var size int
	err = s.reg.With(id, func(n *engine.Network) error {
		for _, f := range facts {
			if err := n.ActivateNode(r.Context(), f); err != nil {
				return err
			}
		}
		size = n.Len()
		return nil
	})
	if err != nil {
		s.writeEngineError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": id,
		"activated":    len(facts),
		"working_set":  size,
	})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var size int
	err := s.reg.With(id, func(n *engine.Network) error {
		if err := n.UpdateActivation(r.Context()); err != nil {
			return err
		}
		size = n.Len()
		return nil
	})
	if err != nil {
		s.writeEngineError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": id,
		"working_set":  size,
	})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		var err error
		k, err = strconv.Atoi(v)
		if err != nil || k < 0 {
			writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
			return
		}
	}

	var nodes []engine.ActiveNode
	s.reg.View(id, func(n *engine.Network) {
		if k == 0 {
			k = n.Params().DefaultTopK
		}
		nodes = n.GetActivatedNodes(k)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": id,
		"nodes":        toActiveNodes(nodes),
		"memories":     engine.FormatMemories(nodes, s.now()),
	})
}

func (s *Server) handleDropConversation(w http.ResponseWriter, r *http.Request) {
	if !s.reg.Drop(chi.URLParam(r, "conversationID")) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v and validates it, writing a 400 on
// failure. An empty body decodes as the zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field "+verrs[0].Field()+": "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// collectFacts validates explicit facts and appends those parsed from a
// bullet-list text block.
func collectFacts(explicit []string, text string) ([]string, error) {
	facts := make([]string, 0, len(explicit))
	for i, f := range explicit {
		fact, err := engine.ValidateFact(f)
		if err != nil {
			return nil, fmt.Errorf("facts[%d]: %w", i, err)
		}
		facts = append(facts, fact)
	}
	facts = append(facts, engine.ParseFacts(text)...)
	if len(facts) > maxFacts {
		return nil, fmt.Errorf("too many facts: %d, limit %d", len(facts), maxFacts)
	}
	return facts, nil
}

func (s *Server) writeEngineError(w http.ResponseWriter, conversation string, err error) {
	var pe *engine.ProviderError
	if errors.As(err, &pe) {
		s.logger.Warn("embedding failed", zap.String("conversation", conversation), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Error("activation cycle failed", zap.String("conversation", conversation), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
