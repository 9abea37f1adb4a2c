package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cowprotocol/dex-solvers/internal/domain/auction"
	"github.com/cowprotocol/dex-solvers/internal/domain/solution"
)

// Solver is the interface the HTTP layer drives to solve an auction.
type Solver interface {
	Solve(ctx context.Context, a auction.Auction) []solution.Solution
}

// Server serves the solver engine's HTTP API.
type Server struct {
	solver Solver
}

// New creates a Server backed by the given solver.
func New(solver Solver) *Server {
	return &Server{solver: solver}
}

// Handler builds the server's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/solve", s.handleSolve)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auctionDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := toDomain(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	solutions := s.solver.Solve(r.Context(), a)
	slog.Debug("solved auction", "auction", a.ID, "orders", len(a.Orders), "solutions", len(solutions))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(fromDomain(solutions)); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
