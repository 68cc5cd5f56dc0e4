package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages time-based jobs keyed by an id
type Scheduler struct {
	cron      *cron.Cron
	log       *zap.Logger
	jobMap    map[string]cron.EntryID // Maps job ID to cron entry ID
	jobMapMux sync.RWMutex            // Protects jobMap
}

// NewScheduler creates a scheduler. Specs accept an optional seconds field
// and descriptors such as "@every 1s".
func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:    log,
		jobMap: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("cron scheduler stopped")
}

// Remove removes a job by its ID
func (s *Scheduler) Remove(id string) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if entryID, exists := s.jobMap[id]; exists {
		s.cron.Remove(entryID)
		delete(s.jobMap, id)
		s.log.Debug("removed job", zap.String("id", id), zap.Int("entry", int(entryID)))
	}
}

// AddOrUpdate replaces the job registered under id
func (s *Scheduler) AddOrUpdate(id, spec string, fn func()) error {
	s.Remove(id)

	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		s.log.Error("failed to add job", zap.String("id", id), zap.String("spec", spec), zap.Error(err))
		return err
	}

	s.jobMapMux.Lock()
	s.jobMap[id] = entryID
	s.jobMapMux.Unlock()

	s.log.Info("added job", zap.String("id", id), zap.String("spec", spec), zap.Int("entry", int(entryID)))
	return nil
}

// Count returns the number of currently scheduled jobs
func (s *Scheduler) Count() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}
