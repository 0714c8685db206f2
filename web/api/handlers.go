package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
	"github.com/osctools/gpuscout/internal/runstore"
)

// RunResponse is the API response for one search run
type RunResponse struct {
	ID            string          `json:"id"`
	Account       string          `json:"account"`
	Partition     string          `json:"partition,omitempty"`
	GPUMin        int             `json:"gpu_min"`
	GPUMax        int             `json:"gpu_max"`
	TimeMin       string          `json:"time_min"`
	TimeMax       string          `json:"time_max"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	MaxGPUs       int             `json:"max_gpus,omitempty"`
	MaxTime       string          `json:"max_time,omitempty"`
	GPUConfirmed  bool            `json:"gpu_confirmed"`
	TimeConfirmed bool            `json:"time_confirmed"`
	StartedAt     string          `json:"started_at,omitempty"`
	FinishedAt    string          `json:"finished_at,omitempty"`
	Trials        []TrialResponse `json:"trials,omitempty"`
}

// TrialResponse is the API response for one probe trial
type TrialResponse struct {
	Phase   string `json:"phase"`
	GPUs    int    `json:"gpus"`
	Time    string `json:"time"`
	ProbeID string `json:"probe_id,omitempty"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total      int `json:"total"`
	Running    int `json:"running"`
	Finished   int `json:"finished"`
	Degenerate int `json:"degenerate"`
	Aborted    int `json:"aborted"`
}

func runToResponse(run *runstore.Run, includeTrials bool) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		Account:   run.Bounds.Account,
		Partition: run.Bounds.Partition,
		GPUMin:    run.Bounds.GPUMin,
		GPUMax:    run.Bounds.GPUMax,
		TimeMin:   domain.FormatCompact(run.Bounds.TimeMin),
		TimeMax:   domain.FormatCompact(run.Bounds.TimeMax),
		Status:    string(run.Status),
		Error:     run.Error,
	}
	if !run.StartedAt.IsZero() {
		resp.StartedAt = run.StartedAt.Format(time.RFC3339)
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	if run.Result != nil {
		resp.MaxGPUs = run.Result.MaxAdmittedGPUs
		resp.MaxTime = domain.FormatCompact(run.Result.MaxAdmittedTime)
		resp.GPUConfirmed = run.Result.GPUConfirmed
		resp.TimeConfirmed = run.Result.TimeConfirmed
		if includeTrials {
			for _, trace := range []domain.SearchTrace{run.Result.GPUTrace, run.Result.TimeTrace} {
				for _, trial := range trace {
					resp.Trials = append(resp.Trials, TrialResponse{
						Phase:   string(trial.Spec.Phase),
						GPUs:    trial.Spec.GPUCount,
						Time:    domain.FormatCompact(trial.Spec.TimeWindow),
						ProbeID: trial.ProbeID,
						Outcome: trial.Outcome.String(),
						Detail:  trial.Detail,
					})
				}
			}
		}
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.store.ListRuns(runstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(runs)
		for _, run := range runs {
			switch run.Status {
			case runstore.StatusRunning:
				status.Running++
			case runstore.StatusFinished:
				status.Finished++
			case runstore.StatusDegenerate:
				status.Degenerate++
			case runstore.StatusAborted:
				status.Aborted++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := runstore.ListOptions{
			Account: r.URL.Query().Get("account"),
		}
		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]RunResponse, len(runs))
		for i, run := range runs {
			responses[i] = runToResponse(run, false)
		}
		writeJSON(w, responses)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		run, err := s.store.GetRun(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}

		writeJSON(w, runToResponse(run, true))
	}
}
