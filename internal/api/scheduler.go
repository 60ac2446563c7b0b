package api

import (
	"net/http"

	"github.com/clawinfra/opsguardian/internal/config"
	"github.com/clawinfra/opsguardian/internal/scheduler"
)

// handleSchedulerStatus returns scheduler statistics
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	sched := s.opts.Scheduler
	if sched == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"enabled": false,
			"message": "Scheduler not enabled",
		})
		return
	}

	writeJSON(w, http.StatusOK, sched.GetStats())
}

// handleSchedulerListJobs returns all jobs
func (s *Server) handleSchedulerListJobs(w http.ResponseWriter, r *http.Request) {
	sched := s.opts.Scheduler
	if sched == nil {
		unavailable(w, "scheduler")
		return
	}

	jobs := sched.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleSchedulerGetJob returns a specific job
func (s *Server) handleSchedulerGetJob(w http.ResponseWriter, r *http.Request) {
	sched := s.opts.Scheduler
	if sched == nil {
		unavailable(w, "scheduler")
		return
	}

	job, err := sched.GetJob(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleSchedulerRunJob triggers a job immediately and returns its output.
func (s *Server) handleSchedulerRunJob(w http.ResponseWriter, r *http.Request) {
	sched := s.opts.Scheduler
	if sched == nil {
		unavailable(w, "scheduler")
		return
	}

	jobID := r.PathValue("id")
	output, err := sched.RunJobNow(r.Context(), jobID)
	if err != nil {
		if _, lookupErr := sched.GetJob(jobID); lookupErr != nil {
			writeErr(w, lookupErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": jobID,
			"output": output,
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"output": output,
	})
}

// handleSchedulerAddJob adds a job for the lifetime of the process. Jobs
// that should survive a restart belong in the config file.
func (s *Server) handleSchedulerAddJob(w http.ResponseWriter, r *http.Request) {
	sched := s.opts.Scheduler
	if sched == nil {
		unavailable(w, "scheduler")
		return
	}

	var jc config.JobConfig
	if err := decodeJSON(r, &jc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := scheduler.FromConfig(jc)
	if err := sched.AddJob(job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Job added",
		"job":     job.Clone(),
	})
}

// handleSchedulerRemoveJob removes a job
func (s *Server) handleSchedulerRemoveJob(w http.ResponseWriter, r *http.Request) {
	sched := s.opts.Scheduler
	if sched == nil {
		unavailable(w, "scheduler")
		return
	}

	jobID := r.PathValue("id")
	if err := sched.RemoveJob(jobID); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Job removed",
		"job_id":  jobID,
	})
}
