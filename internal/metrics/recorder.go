// Package metrics records queue, build and monitor observability. Components
// receive a Recorder by injection; the Nop implementation keeps tests and
// metric-less deployments free of nil checks.
package metrics

import "time"

// Recorder defines the observability hooks the daemon emits.
type Recorder interface {
	BuildStarted(trigger string)
	BuildFinished(outcome string, d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
	SetQueueDepth(n int)
	SetBusyWorkers(n int)
	ObserveMonitorSweep(d time.Duration)
	IncMonitorEnqueue()
}

// Nop is the default Recorder doing nothing.
type Nop struct{}

func (Nop) BuildStarted(string)                        {}
func (Nop) BuildFinished(string, time.Duration)        {}
func (Nop) ObserveStageDuration(string, time.Duration) {}
func (Nop) SetQueueDepth(int)                          {}
func (Nop) SetBusyWorkers(int)                         {}
func (Nop) ObserveMonitorSweep(time.Duration)          {}
func (Nop) IncMonitorEnqueue()                         {}
