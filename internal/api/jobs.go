package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"

	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusComplete   = "complete"
	FileStatusError      = "error"
)

// MaskJob tracks an asynchronous masking request across multiple files.
// Files are masked one after another.
type MaskJob struct {
	ID        string         `json:"jobId"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Files     []FileProgress `json:"files"`
	Results   []FileResult   `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// FileProgress captures per-file progress updates that the frontend polls.
type FileProgress struct {
	Index   int          `json:"index"`
	Name    string       `json:"name"`
	Status  string       `json:"status"`
	Step    string       `json:"step,omitempty"`
	Message string       `json:"message,omitempty"`
	Current int          `json:"current"`
	Total   int          `json:"total"`
	Percent int          `json:"percent"`
	Results []FileResult `json:"results,omitempty"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*MaskJob
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*MaskJob),
	}
}

func (m *JobManager) CreateJob(fileNames []string) (string, *MaskJob) {
	files := make([]FileProgress, len(fileNames))
	for i, name := range fileNames {
		files[i] = FileProgress{
			Index:  i,
			Name:   name,
			Status: FileStatusPending,
		}
	}
	job := &MaskJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Files:     files,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) GetJob(id string) (*MaskJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *MaskJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) MarkCompleted(id string) {
	m.withJob(id, func(job *MaskJob) {
		job.Status = JobStatusComplete
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	m.withJob(id, func(job *MaskJob) {
		job.Status = JobStatusFailed
		job.Error = strings.TrimSpace(msg)
	})
}

func (m *JobManager) MarkFileStarted(id string, index int) {
	m.withJob(id, func(job *MaskJob) {
		if file := job.file(index); file != nil {
			file.Status = FileStatusProcessing
			file.Step = ""
			file.Message = "Starting"
			file.Current = 0
			file.Total = 100
			file.Percent = 0
			file.Error = ""
		}
	})
}

func (m *JobManager) UpdateFileProgress(id string, index int, step, message string, current, total int) {
	m.withJob(id, func(job *MaskJob) {
		if file := job.file(index); file != nil {
			file.Status = FileStatusProcessing
			file.Step = step
			file.Message = message
			file.Current = current
			file.Total = total
			file.Percent = percent(current, total)
		}
	})
}

func (m *JobManager) MarkFileComplete(id string, index int, results []FileResult) {
	m.withJob(id, func(job *MaskJob) {
		if file := job.file(index); file != nil {
			file.Status = FileStatusComplete
			file.Step = "complete"
			file.Message = "Masking complete"
			file.Current = 100
			file.Total = 100
			file.Percent = 100
			file.Results = cloneResults(results)
			file.Code = ""
			file.Error = ""
		}
		job.Results = append(job.Results, results...)
	})
}

// MarkFileError records a failed file. Pages of a PDF that were masked before
// the failure are kept as partial results.
func (m *JobManager) MarkFileError(id string, index int, message, code string, partial []FileResult) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *MaskJob) {
		if file := job.file(index); file != nil {
			file.Status = FileStatusError
			file.Step = "error"
			file.Message = msg
			file.Error = msg
			file.Current = 100
			file.Total = 100
			file.Percent = 100
			file.Results = cloneResults(partial)
			file.Code = code
		}
		job.Results = append(job.Results, partial...)
	})
}

func (m *JobManager) withJob(id string, fn func(job *MaskJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *MaskJob) file(index int) *FileProgress {
	if index < 0 || index >= len(job.Files) {
		return nil
	}
	return &job.Files[index]
}

func (job *MaskJob) clone() *MaskJob {
	if job == nil {
		return nil
	}
	copyJob := &MaskJob{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Error:     job.Error,
	}
	if len(job.Files) > 0 {
		copyJob.Files = make([]FileProgress, len(job.Files))
		for i, file := range job.Files {
			copyJob.Files[i] = file
			copyJob.Files[i].Results = cloneResults(file.Results)
		}
	}
	if len(job.Results) > 0 {
		copyJob.Results = cloneResults(job.Results)
	}
	return copyJob
}

// cloneResults copies the slice and the MaskResult each entry points to, so
// snapshots never alias state the job goroutine still writes.
func cloneResults(results []FileResult) []FileResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]FileResult, len(results))
	for i, res := range results {
		out[i] = res
		if res.MaskResult != nil {
			mr := *res.MaskResult
			out[i].MaskResult = &mr
		}
	}
	return out
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
