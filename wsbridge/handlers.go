package wsbridge

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"sortie/store"
)

// Server exposes the live event stream at /ws and a read-only JSON view of
// recorded runs under /api. It never writes run state.
type Server struct {
	streamer *Streamer
	tracker  store.Tracker
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server that broadcasts through streamer and reads run
// history from tracker.
func NewServer(streamer *Streamer, tracker store.Tracker, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		streamer: streamer,
		tracker:  tracker,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the handler for the bridge endpoints.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/runs/", s.handleGetRun)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", "error", err)
		return
	}
	newClient(s.streamer, ws).start()
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.tracker.ListRuns(limit)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"runs": runs})
}

// runDetail is the /api/runs/{uid} response body.
type runDetail struct {
	Run   *store.Run      `json:"run"`
	Tasks []store.Task    `json:"tasks"`
	Steps []store.RunStep `json:"steps"`
	Pins  []store.Pin     `json:"pins"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := r.URL.Path[len("/api/runs/"):]
	if uid == "" {
		http.Error(w, "missing run uid", http.StatusBadRequest)
		return
	}

	run, err := s.tracker.GetRunByUID(uid)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	tasks, err := s.tracker.ListTasksForRun(run.ID)
	if err != nil {
		s.logger.Error("list tasks", "run", uid, "error", err)
		http.Error(w, "load run detail failed", http.StatusInternalServerError)
		return
	}
	steps, err := s.tracker.ListStepsForRun(run.ID)
	if err != nil {
		s.logger.Error("list steps", "run", uid, "error", err)
		http.Error(w, "load run detail failed", http.StatusInternalServerError)
		return
	}
	pins, err := s.tracker.ListPinsForRun(run.ID)
	if err != nil {
		s.logger.Error("list pins", "run", uid, "error", err)
		http.Error(w, "load run detail failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, runDetail{Run: run, Tasks: tasks, Steps: steps, Pins: pins})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
