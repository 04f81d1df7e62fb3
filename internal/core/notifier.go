package core

// Notifier delivers operator-facing messages: lifecycle changes, entries,
// averaging buys and exits. The chat surface implements it; tests and
// headless runs use NopNotifier.
type Notifier interface {
	Deliver(text string) error
}

type NopNotifier struct{}

func (NopNotifier) Deliver(string) error { return nil }
