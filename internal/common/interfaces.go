package common

// Observer receives every emitted notification event. Observers must not
// block; slow side effects belong behind their own goroutines.
type Observer interface {
	Update(event NotificationEvent) error
	Name() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	Notify(event NotificationEvent)
}
