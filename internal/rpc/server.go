// Package rpc exposes the orchestrator as a JSON-over-HTTP unary API. Every
// mutating method requires an idempotency key; the first successful response
// is cached in the store and replayed verbatim on retry within the method's
// TTL.
package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/metrics"
	"github.com/bricerising/homegame/internal/store"
	"github.com/bricerising/homegame/internal/table"
)

// Idempotency TTLs per method family.
const (
	lifecycleTTL  = time.Hour
	seatTTL       = 10 * time.Minute
	actionTTL     = 5 * time.Minute
	moderationTTL = time.Minute
)

type Server struct {
	orch    *table.Orchestrator
	store   store.Store
	metrics *metrics.Metrics
	clock   quartz.Clock
	log     *log.Logger
	handler http.Handler
}

func NewServer(orch *table.Orchestrator, st store.Store, m *metrics.Metrics, clock quartz.Clock, logger *log.Logger) *Server {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{orch: orch, store: st, metrics: m, clock: clock, log: logger}

	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.GET("/v1/tables", s.handleListTables)
	router.POST("/v1/tables", s.handleCreateTable)
	router.GET("/v1/tables/:tableId", s.handleGetTable)
	router.GET("/v1/tables/:tableId/state", s.handleGetTableState)
	router.POST("/v1/tables/:tableId/delete", s.handleDeleteTable)
	router.POST("/v1/tables/:tableId/join", s.handleJoinSeat)
	router.POST("/v1/tables/:tableId/leave", s.handleLeaveSeat)
	router.POST("/v1/tables/:tableId/action", s.handleSubmitAction)
	router.POST("/v1/tables/:tableId/kick", s.handleKickPlayer)
	router.POST("/v1/tables/:tableId/mute", s.handleMutePlayer)
	router.POST("/v1/tables/:tableId/spectate", s.handleJoinSpectator)
	router.POST("/v1/tables/:tableId/unspectate", s.handleLeaveSpectator)
	router.POST("/v1/tables/:tableId/chat", s.handleChat)

	s.handler = cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(router)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// envelope is the unary response shape.
type envelope struct {
	OK     bool      `json:"ok"`
	Result any       `json:"result,omitempty"`
	Error  *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusOf maps an error code to the HTTP status and the reported status
// label.
func statusOf(code engine.Code) (int, string) {
	switch code {
	case engine.CodeTableNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case engine.CodeNotAuthorized:
		return http.StatusForbidden, "PERMISSION_DENIED"
	case engine.CodeMissingIdempotencyKey, engine.CodeMissingAmount,
		engine.CodeAmountTooSmall, engine.CodeAmountTooLarge,
		engine.CodeInvalidAction:
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case engine.CodeIdempotencyInProgress:
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case engine.CodeSeatNotAvailable, engine.CodeAlreadySeated,
		engine.CodeInsufficientBalance, engine.CodeNotYourTurn,
		engine.CodeNoHand, engine.CodeNoHandInProgress,
		engine.CodeHandComplete, engine.CodeIllegalAction,
		engine.CodeSeatMissing, engine.CodeSeatInactive,
		engine.CodePlayerNotAtTable, engine.CodeTableLost,
		engine.CodeSeatLost:
		return http.StatusConflict, "FAILED_PRECONDITION"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// respond writes the envelope and reports the call to metrics.
func (s *Server) respond(w http.ResponseWriter, method string, started time.Time, result any, err error) {
	status := http.StatusOK
	label := "OK"
	env := envelope{OK: true, Result: result}
	if err != nil {
		code := engine.CodeOf(err)
		status, label = statusOf(code)
		env = envelope{OK: false, Error: &rpcError{Code: string(code), Message: err.Error()}}
		if status == http.StatusInternalServerError {
			s.log.Error("rpc."+method+".failed", "err", err)
		}
	}
	s.metrics.ObserveRPC(method, label, s.clock.Now().Sub(started))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(env); encodeErr != nil {
		s.log.Error("rpc."+method+".encode.failed", "err", encodeErr)
	}
}

func decode(r *http.Request, into any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return engine.E(engine.CodeInvalidAction, "malformed request body: %v", err)
	}
	return nil
}

// idempotent runs fn under the (method, key) idempotency claim. A cached
// response replays verbatim; a concurrent duplicate conflicts; a failed fn
// releases the claim so the caller can retry.
func (s *Server) idempotent(r *http.Request, method, key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, engine.E(engine.CodeMissingIdempotencyKey, "%s requires an idempotencyKey", method)
	}
	ctx := r.Context()
	cached, err := s.store.ClaimIdempotency(ctx, method, key, ttl)
	if errors.Is(err, store.ErrInProgress) {
		return nil, engine.E(engine.CodeIdempotencyInProgress, "duplicate %s in flight", method)
	}
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return json.RawMessage(cached), nil
	}

	result, err := fn()
	if err != nil {
		if releaseErr := s.store.ReleaseIdempotency(ctx, method, key); releaseErr != nil {
			s.log.Warn("rpc.idempotency.release.failed", "method", method, "err", releaseErr)
		}
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, engine.E(engine.CodeInternal, "encode %s result: %v", method, err)
	}
	if err := s.store.CompleteIdempotency(ctx, method, key, raw, ttl); err != nil {
		s.log.Warn("rpc.idempotency.complete.failed", "method", method, "err", err)
	}
	return json.RawMessage(raw), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	started := s.clock.Now()
	summaries, err := s.orch.ListTables(r.Context())
	s.respond(w, "listTables", started, map[string]any{"tables": summaries}, err)
}

type createTableRequest struct {
	Name           string             `json:"name"`
	OwnerID        string             `json:"ownerId"`
	Config         engine.TableConfig `json:"config"`
	IdempotencyKey string             `json:"idempotencyKey"`
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	started := s.clock.Now()
	var req createTableRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "createTable", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "createTable", req.IdempotencyKey, lifecycleTTL, func() (any, error) {
		created, err := s.orch.CreateTable(r.Context(), req.OwnerID, req.Name, req.Config)
		if err != nil {
			return nil, err
		}
		return map[string]any{"table": created}, nil
	})
	s.respond(w, "createTable", started, result, err)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	got, err := s.orch.GetTable(r.Context(), p.ByName("tableId"))
	var result any
	if err == nil {
		result = map[string]any{"table": got}
	}
	s.respond(w, "getTable", started, result, err)
}

func (s *Server) handleGetTableState(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	st, err := s.orch.GetTableState(r.Context(), p.ByName("tableId"), r.URL.Query().Get("userId"))
	var result any
	if err == nil {
		result = map[string]any{"tableState": st}
	}
	s.respond(w, "getTableState", started, result, err)
}

type deleteTableRequest struct {
	UserID         string `json:"userId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req deleteTableRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "deleteTable", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "deleteTable", req.IdempotencyKey, lifecycleTTL, func() (any, error) {
		if err := s.orch.DeleteTable(r.Context(), p.ByName("tableId"), req.UserID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	})
	s.respond(w, "deleteTable", started, result, err)
}

type joinSeatRequest struct {
	UserID         string `json:"userId"`
	SeatID         int    `json:"seatId"`
	BuyInAmount    int    `json:"buyInAmount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleJoinSeat(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req joinSeatRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "joinSeat", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "joinSeat", req.IdempotencyKey, seatTTL, func() (any, error) {
		joined, err := s.orch.JoinSeat(r.Context(), p.ByName("tableId"), req.UserID, req.SeatID, req.BuyInAmount)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": joined.Label, "seatId": joined.SeatID, "stack": joined.Stack}, nil
	})
	s.respond(w, "joinSeat", started, result, err)
}

type leaveSeatRequest struct {
	UserID         string `json:"userId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleLeaveSeat(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req leaveSeatRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "leaveSeat", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "leaveSeat", req.IdempotencyKey, seatTTL, func() (any, error) {
		if err := s.orch.LeaveSeat(r.Context(), p.ByName("tableId"), req.UserID); err != nil {
			return nil, err
		}
		return map[string]any{"left": true}, nil
	})
	s.respond(w, "leaveSeat", started, result, err)
}

type submitActionRequest struct {
	UserID         string `json:"userId"`
	Action         string `json:"action"`
	Amount         *int   `json:"amount,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req submitActionRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "submitAction", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "submitAction", req.IdempotencyKey, actionTTL, func() (any, error) {
		actionType, err := engine.ParseActionType(req.Action)
		if err != nil {
			return nil, engine.E(engine.CodeInvalidAction, "%v", err)
		}
		input := engine.ActionInput{Type: actionType}
		if req.Amount != nil {
			input.Amount = *req.Amount
			input.HasAmount = true
		}
		applied, err := s.orch.SubmitAction(r.Context(), p.ByName("tableId"), req.UserID, input)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": applied.Action, "handComplete": applied.HandComplete}, nil
	})
	s.respond(w, "submitAction", started, result, err)
}

type moderationRequest struct {
	OwnerID        string `json:"ownerId"`
	TargetUserID   string `json:"targetUserId"`
	Muted          bool   `json:"muted"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleKickPlayer(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req moderationRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "kickPlayer", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "kickPlayer", req.IdempotencyKey, moderationTTL, func() (any, error) {
		if err := s.orch.KickPlayer(r.Context(), p.ByName("tableId"), req.OwnerID, req.TargetUserID); err != nil {
			return nil, err
		}
		return map[string]any{"kicked": true}, nil
	})
	s.respond(w, "kickPlayer", started, result, err)
}

func (s *Server) handleMutePlayer(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req moderationRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "mutePlayer", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "mutePlayer", req.IdempotencyKey, moderationTTL, func() (any, error) {
		if err := s.orch.MutePlayer(r.Context(), p.ByName("tableId"), req.OwnerID, req.TargetUserID, req.Muted); err != nil {
			return nil, err
		}
		return map[string]any{"muted": req.Muted}, nil
	})
	s.respond(w, "mutePlayer", started, result, err)
}

type spectatorRequest struct {
	UserID         string `json:"userId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleJoinSpectator(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req spectatorRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "joinSpectator", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "joinSpectator", req.IdempotencyKey, seatTTL, func() (any, error) {
		if err := s.orch.JoinSpectator(r.Context(), p.ByName("tableId"), req.UserID); err != nil {
			return nil, err
		}
		return map[string]any{"spectating": true}, nil
	})
	s.respond(w, "joinSpectator", started, result, err)
}

func (s *Server) handleLeaveSpectator(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req spectatorRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "leaveSpectator", started, nil, err)
		return
	}
	result, err := s.idempotent(r, "leaveSpectator", req.IdempotencyKey, seatTTL, func() (any, error) {
		if err := s.orch.LeaveSpectator(r.Context(), p.ByName("tableId"), req.UserID); err != nil {
			return nil, err
		}
		return map[string]any{"spectating": false}, nil
	})
	s.respond(w, "leaveSpectator", started, result, err)
}

type chatRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// Chat is relay-only; there is nothing durable to replay, so it carries no
// idempotency key.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	started := s.clock.Now()
	var req chatRequest
	if err := decode(r, &req); err != nil {
		s.respond(w, "chat", started, nil, err)
		return
	}
	err := s.orch.Chat(r.Context(), p.ByName("tableId"), req.UserID, req.Text)
	var result any
	if err == nil {
		result = map[string]any{"sent": true}
	}
	s.respond(w, "chat", started, result, err)
}
