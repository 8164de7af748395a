package gather

// Stages reported through StatusEvent.
const (
	StageSetup      = "setup"
	StageBeforePass = "before-pass"
	StageNavigate   = "navigate"
	StagePass       = "pass"
	StageAfterPass  = "after-pass"
	StageTeardown   = "teardown"
)

// StatusEvent is one progress notification from the coordinator. Gatherer
// is empty for pass-level stages such as navigation; Err is set when the
// stage failed.
type StatusEvent struct {
	Pass     string
	Stage    string
	Gatherer string
	Err      error
}

// Observer receives progress notifications during a run.
type Observer interface {
	OnStatus(e StatusEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StatusEvent)

func (f ObserverFunc) OnStatus(e StatusEvent) { f(e) }

type multiObserver []Observer

func (m multiObserver) OnStatus(e StatusEvent) {
	for _, o := range m {
		o.OnStatus(e)
	}
}

// MultiObserver fans events out to every given observer, in order.
func MultiObserver(obs ...Observer) Observer { return multiObserver(obs) }

type nopObserver struct{}

func (nopObserver) OnStatus(StatusEvent) {}
