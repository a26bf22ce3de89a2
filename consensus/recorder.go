package consensus

import "time"

// Recorder receives protocol events, typically to update metrics.
type Recorder interface {
	RoundCompleted(duration time.Duration)
	Decided(value Value)
	QuorumTimeout(phase Phase)
	CoinFlipped()
	BroadcastFailed()
	MessageReceived()
	MessageDiscarded()
}

type nopRecorder struct{}

func (nopRecorder) RoundCompleted(time.Duration) {}
func (nopRecorder) Decided(Value)                {}
func (nopRecorder) QuorumTimeout(Phase)          {}
func (nopRecorder) CoinFlipped()                 {}
func (nopRecorder) BroadcastFailed()             {}
func (nopRecorder) MessageReceived()             {}
func (nopRecorder) MessageDiscarded()            {}
