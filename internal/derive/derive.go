// internal/derive/derive.go

// Package derive computes point-in-time telemetry from an ordered tool-call
// event log. Compute is a pure function; nothing here is cached or stored.
package derive

import (
	"github.com/user/deskpilot/internal/types"
)

// Compute derives telemetry from the given event log. Safe to call with an
// empty or nil log: all counters zero, status idle, no active call.
//
// Status precedence: any running event means executing; otherwise any error
// event means error; otherwise idle. The thinking status is never derived
// here, it is an external chat-runtime signal applied by the caller.
func Compute(events []*types.ToolCallEvent) *types.DerivedState {
	counts := make(map[string]int, len(types.ActionKinds))
	for _, kind := range types.ActionKinds {
		counts[kind] = 0
	}

	var (
		successCount  int
		errorCount    int
		durationSum   float64
		durationCount int
		hasRunning    bool
		active        *types.ToolCallEvent
	)

	for _, event := range events {
		if event.ToolCall != nil {
			counts[event.ToolCall.Kind()]++
		}

		switch event.Status {
		case types.StatusRunning:
			hasRunning = true
			if active == nil {
				active = event
			}
		case types.StatusSuccess:
			successCount++
		case types.StatusError:
			errorCount++
		}

		if event.Duration != nil {
			durationSum += float64(*event.Duration)
			durationCount++
		}
	}

	status := types.AgentIdle
	if hasRunning {
		status = types.AgentExecuting
	} else if errorCount > 0 {
		status = types.AgentError
	}

	// Aborted events count toward neither side of the rate.
	var successRate float64
	if completed := successCount + errorCount; completed > 0 {
		successRate = float64(successCount) / float64(completed) * 100
	}

	var averageDuration float64
	if durationCount > 0 {
		averageDuration = durationSum / float64(durationCount)
	}

	return &types.DerivedState{
		ActionCounts:    counts,
		AgentStatus:     status,
		TotalEvents:     len(events),
		SuccessRate:     successRate,
		AverageDuration: averageDuration,
		ActiveToolCall:  active,
	}
}
