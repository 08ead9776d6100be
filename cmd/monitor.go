package cmd

import (
	"expvar"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

type monitor struct {
	info    *expvar.Map
	stopped chan struct{}
	server  *http.Server
	began   time.Time

	BurnIn       *expvar.Int
	SampleCount  *expvar.Int
	TotalGroups  *expvar.Int
	GroupsDone   *expvar.Int
	GroupsFailed *expvar.Int
	Sweeps       *expvar.Int
	LastCGIters  *expvar.Int
	LastCGErr    *expvar.Float
	RunTime      *expvar.Float
}

// newMonitor returns a monitor whose counters work even if it is never
// started.
func newMonitor() *monitor {
	return &monitor{
		BurnIn:       new(expvar.Int),
		SampleCount:  new(expvar.Int),
		TotalGroups:  new(expvar.Int),
		GroupsDone:   new(expvar.Int),
		GroupsFailed: new(expvar.Int),
		Sweeps:       new(expvar.Int),
		LastCGIters:  new(expvar.Int),
		LastCGErr:    new(expvar.Float),
		RunTime:      new(expvar.Float),
		began:        time.Now(),
	}
}

// Tick updates the run time
func (m *monitor) Tick() {
	m.RunTime.Set(time.Since(m.began).Seconds())
}

// Start publishes the counters and begins serving them on addr
func (m *monitor) Start(addr string) error {
	if m.info != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	m.info = expvar.NewMap("ptgibbs-progress")
	m.stopped = make(chan struct{})
	m.server = &http.Server{
		Addr: addr,
	}

	// Help the user and redirect to the only thing currently available:
	// the handler from the expvar package
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debug/vars", http.StatusTemporaryRedirect)
	})

	m.info.Set("Burn-In", m.BurnIn)
	m.info.Set("Samples-Per-Group", m.SampleCount)
	m.info.Set("Total-Groups", m.TotalGroups)
	m.info.Set("Groups-Done", m.GroupsDone)
	m.info.Set("Groups-Failed", m.GroupsFailed)
	m.info.Set("Sweeps", m.Sweeps)
	m.info.Set("Last-CG-Iterations", m.LastCGIters)
	m.info.Set("Last-CG-Error", m.LastCGErr)
	m.info.Set("Run-Time", m.RunTime)

	// Actual server that will close the stopped channel on exit
	started := make(chan struct{})
	go func() {
		defer close(m.stopped)
		fmt.Fprintf(os.Stderr, "HTTP now available at %v (see debug/vars/)\n", m.server.Addr)
		close(started)
		m.server.ListenAndServe()
	}()

	<-started
	return nil
}

func (m *monitor) Stop() {
	if m.info == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		fmt.Fprintf(os.Stderr, "HTTP Info Stopped\n")
	case <-time.After(2 * time.Second):
		fmt.Fprintf(os.Stderr, "HTTP would NOT stop: just continuing on\n")
	}
}
