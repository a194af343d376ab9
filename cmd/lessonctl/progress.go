package main

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/convolab/lessonaudio/internal/modules/audiokit"
)

// progressReporter adapts a terminal bar to audiokit.ProgressFunc.
type progressReporter struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newProgressReporter(w io.Writer, description string) *progressReporter {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	return &progressReporter{bar: bar}
}

func (p *progressReporter) Func() audiokit.ProgressFunc {
	return func(percent int, message string) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if message != "" {
			p.bar.Describe(message)
		}
		_ = p.bar.Set(percent)
	}
}

func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
