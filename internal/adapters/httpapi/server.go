package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	memsource "github.com/cardbuff/cardstats/internal/adapters/memory/cardsource"
	"github.com/cardbuff/cardstats/internal/app/cache"
	"github.com/cardbuff/cardstats/internal/app/ratelimit"
	"github.com/cardbuff/cardstats/internal/app/scheduler"
	"github.com/cardbuff/cardstats/internal/app/state"
	"github.com/cardbuff/cardstats/internal/domain"
)

// Server wires the control endpoints to the application services. Runs
// triggered by handlers execute in the background against the server's base
// context so a disconnecting client does not cancel a scan.
type Server struct {
	baseCtx context.Context
	cache   *cache.Service
	limiter *ratelimit.Limiter
	state   *state.Service
	sched   *scheduler.Scheduler
	source  *memsource.Source
	log     *slog.Logger
}

func NewServer(baseCtx context.Context, cards *cache.Service, limiter *ratelimit.Limiter, st *state.Service, sched *scheduler.Scheduler, source *memsource.Source, log *slog.Logger) *Server {
	return &Server{
		baseCtx: baseCtx,
		cache:   cards,
		limiter: limiter,
		state:   st,
		sched:   sched,
		source:  source,
		log:     log,
	}
}

type statsResponse struct {
	Cache     cache.Stats     `json:"cache"`
	RateLimit ratelimit.Stats `json:"rateLimit"`
	Enabled   bool            `json:"enabled"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Cache:     s.cache.Stats(),
		RateLimit: s.limiter.Stats(),
		Enabled:   s.state.Enabled(),
	})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) putEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "body must be {\"enabled\": bool}", nil)
		return
	}
	changed, err := s.state.SetEnabled(r.Context(), *req.Enabled)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage_error", err.Error(), nil)
		return
	}
	if changed {
		if *req.Enabled {
			s.triggerRescan("enabled")
		} else {
			s.sched.CancelRun()
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) deleteCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage_error", err.Error(), nil)
		return
	}
	s.triggerRescan("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteRateLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.ForceReset(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage_error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) {
	s.triggerRescan("refresh requested")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getCacheExport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Export())
}

type importResponse struct {
	Imported int `json:"imported"`
}

func (s *Server) postCacheImport(w http.ResponseWriter, r *http.Request) {
	var snap cache.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "body must be a cache snapshot", nil)
		return
	}
	n, err := s.cache.Import(r.Context(), snap)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Imported: n})
}

type cardPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type cardsRequest struct {
	Location string        `json:"location"`
	Cards    []cardPayload `json:"cards"`
}

// postCards replaces the visible card set and kicks off a reconciliation
// pass. This is how a client reports what is currently on screen.
func (s *Server) postCards(w http.ResponseWriter, r *http.Request) {
	var req cardsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "body must be {location, cards}", nil)
		return
	}
	if req.Location == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "location is required", nil)
		return
	}

	refs := make([]domain.CardRef, 0, len(req.Cards))
	for i, c := range req.Cards {
		ref, err := decodeCardRef(c)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_card", err.Error(), map[string]any{"index": i})
			return
		}
		refs = append(refs, ref)
	}

	s.source.SetPage(req.Location, refs)
	s.triggerRescan("card set updated")
	w.WriteHeader(http.StatusAccepted)
}

type manualUpdateRequest struct {
	Card cardPayload `json:"card"`
}

// postManualUpdate refreshes one card right away, bypassing the rate
// limiter.
func (s *Server) postManualUpdate(w http.ResponseWriter, r *http.Request) {
	var req manualUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "body must be {card}", nil)
		return
	}
	ref, err := decodeCardRef(req.Card)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_card", err.Error(), nil)
		return
	}
	if err := s.sched.ManualUpdate(r.Context(), ref); err != nil {
		writeError(w, r, http.StatusBadGateway, "resolution_failed", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeCardRef(c cardPayload) (domain.CardRef, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("card id is required")
	}
	switch c.Type {
	case "", "direct":
		return domain.DirectRef{CardID: domain.CardID(c.ID)}, nil
	case "market":
		return domain.MarketLotRef{LotID: c.ID}, nil
	case "request":
		return domain.MarketRequestRef{RequestID: c.ID}, nil
	default:
		return nil, fmt.Errorf("unknown card type %q", c.Type)
	}
}

func (s *Server) triggerRescan(reason string) {
	s.log.Info("rescan triggered", "reason", reason)
	go func() {
		if err := s.sched.ProcessAll(s.baseCtx); err != nil && s.baseCtx.Err() == nil {
			s.log.Error("rescan failed", "error", err)
		}
	}()
}
