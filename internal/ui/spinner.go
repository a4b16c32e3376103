package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spinner shows a live label on stderr while an agent runs. It is a no-op
// when stderr is not a terminal.
type Spinner struct {
	Label string

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	enabled bool
}

// Start begins animating. Calling Start on a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.enabled = isatty.IsTerminal(os.Stderr.Fd())
	if !s.enabled {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin(s.stop, s.done)
}

func (s *Spinner) spin(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-stop:
			fmt.Fprintf(os.Stderr, "\r%s\r", strings.Repeat(" ", 80))
			return
		case <-ticker.C:
			fmt.Fprintf(os.Stderr, "\r  %c  %s...", spinnerFrames[i%len(spinnerFrames)], s.Label)
			i++
		}
	}
}

// Stop clears the spinner line and waits for the animation to end.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}
