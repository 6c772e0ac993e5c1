package ports

import "time"

// Metrics receives operational counters. Implementations must be safe for
// concurrent use; NopMetrics discards everything.
type Metrics interface {
	EventHandled(kind string, outcome string)
	EventDropped(kind string)
	ProposalTransitioned(to string)
	GatewayCall(method string, outcome string, elapsed time.Duration)
	OpenProposals(count int)
}

type NopMetrics struct{}

func (NopMetrics) EventHandled(string, string) {}
func (NopMetrics) EventDropped(string) {}
func (NopMetrics) ProposalTransitioned(string) {}
func (NopMetrics) GatewayCall(string, string, time.Duration) {}
func (NopMetrics) OpenProposals(int) {}
