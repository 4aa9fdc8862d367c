// Package jobs runs the API's periodic maintenance tasks on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Func is a unit of scheduled work. It should honour ctx cancellation.
type Func func(ctx context.Context) error

type job struct {
	name string
	spec string
	run  Func
}

type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu     sync.Mutex
	jobs   map[string]job
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a scheduler whose runs are each bounded by timeout. Overlapping
// runs of the same job are skipped.
func New(timeout time.Duration) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.Default())
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		timeout: timeout,
		jobs:    make(map[string]job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job. An empty spec disables it.
func (s *Scheduler) Add(name, spec string, run Func) error {
	spec = strings.TrimSpace(spec)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	s.jobs[name] = job{name: name, spec: spec, run: run}
	if spec == "" {
		log.Printf("jobs: %s disabled (no schedule)", name)
		return nil
	}

	if _, err := s.cron.AddFunc(spec, func() { s.execute(name) }); err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name, j := range s.jobs {
		if j.spec != "" {
			names = append(names, name+"="+j.spec)
		}
	}
	s.mu.Unlock()
	sort.Strings(names)
	log.Printf("jobs: starting scheduler %v", names)
	s.cron.Start()
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) execute(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.run(s.ctx, j); err != nil {
		log.Printf("jobs: %s failed: %v", name, err)
	}
}

func (s *Scheduler) run(parent context.Context, j job) error {
	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}

	started := time.Now()
	err := j.run(ctx)
	log.Printf(`{"job":%q,"duration_ms":%d,"ok":%t}`, j.name, time.Since(started).Milliseconds(), err == nil)
	return err
}

// Names lists registered jobs in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
