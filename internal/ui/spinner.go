package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Step animates a single line while a setup step blocks, before the
// session view owns the terminal.
type Step struct {
	label string
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// StartStep starts animating label.
func StartStep(label string) *Step {
	s := &Step{label: label, stop: make(chan struct{})}
	s.wg.Add(1)
	go s.spin(spinner.Globe)
	return s
}

func (s *Step) spin(sp spinner.Spinner) {
	defer s.wg.Done()
	ticker := time.NewTicker(sp.FPS)
	defer ticker.Stop()
	for i := 0; ; i++ {
		fmt.Printf("\r%s %s...", SpinnerStyle.Render(sp.Frames[i%len(sp.Frames)]), s.label)
		select {
		case <-s.stop:
			fmt.Print("\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// Done clears the line. A successful step leaves a check mark behind;
// failures are left to the caller to report.
func (s *Step) Done(err error) {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		if err == nil {
			PrintSuccessf("%s", s.label)
		}
	})
}
