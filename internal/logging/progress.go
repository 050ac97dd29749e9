package logging

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress is a line counter bar. A nil *Progress is valid and does nothing,
// so callers never branch on whether progress output is enabled.
type Progress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

// NewProgress starts a bar of total steps labelled name. It returns nil when
// progress output is disabled for this logger.
func (l *Logger) NewProgress(name string, total int64) *Progress {
	if !l.ProgressEnabled() || total <= 0 {
		return nil
	}
	p := mpb.New(mpb.WithWidth(80), mpb.WithOutput(l.out))
	bar := p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name+": "),
			decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
		),
	)
	return &Progress{p: p, bar: bar}
}

// SetCurrent moves the bar to n.
func (pr *Progress) SetCurrent(n int64) {
	if pr == nil {
		return
	}
	pr.bar.SetCurrent(n)
}

// Increment advances the bar by one.
func (pr *Progress) Increment() {
	if pr == nil {
		return
	}
	pr.bar.Increment()
}

// Done completes the bar and waits for the renderer to exit.
func (pr *Progress) Done() {
	if pr == nil {
		return
	}
	pr.bar.SetTotal(-1, true)
	pr.p.Wait()
}
