package blueberry

// Metrics receives container measurements. The metrics package provides a
// Prometheus implementation.
type Metrics interface {
	// ObserveLaunch counts a launch attempt by outcome: launched, denied,
	// locked or failed.
	ObserveLaunch(application, outcome string)
	ObserveAdmissionDenied(application, reason string)
	ObserveTransition(application, state string)
	SetActiveHandles(n int)
	SetDescriptors(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveLaunch(string, string)          {}
func (nopMetrics) ObserveAdmissionDenied(string, string) {}
func (nopMetrics) ObserveTransition(string, string)      {}
func (nopMetrics) SetActiveHandles(int)                  {}
func (nopMetrics) SetDescriptors(int)                    {}
