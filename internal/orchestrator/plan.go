package orchestrator

import (
	"context"
	"time"
)

// Step names, in plan order.
const (
	StepNotify       = "notify"
	StepSync         = "sync"
	StepRemountRO    = "remount_ro"
	StepStopServices = "stop_services"
	StepPoweroff     = "poweroff"
)

// PlanStep is one named stage of the shutdown sequence with its own bound.
type PlanStep struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Plan is the ordered shutdown sequence. Built once at startup from
// configuration and never mutated afterwards.
type Plan struct {
	Steps []PlanStep
}

// plan builds the shutdown sequence from configuration. Each step carries an
// independent timeout: one step exhausting its bound never consumes the time
// reserved for the steps after it.
func (o *Orchestrator) plan() Plan {
	s := o.cfg.Shutdown
	return Plan{Steps: []PlanStep{
		{Name: StepNotify, Timeout: time.Duration(s.NotifyTimeout) * time.Second, Run: o.stepNotify},
		{Name: StepSync, Timeout: time.Duration(s.SyncTimeout) * time.Second, Run: o.stepSync},
		{Name: StepRemountRO, Timeout: time.Duration(s.RemountTimeout) * time.Second, Run: o.stepRemountRO},
		{Name: StepStopServices, Timeout: time.Duration(s.StopServicesTimeout) * time.Second, Run: o.stepStopServices},
		{Name: StepPoweroff, Timeout: time.Duration(s.PoweroffTimeout) * time.Second, Run: o.stepPoweroff},
	}}
}
