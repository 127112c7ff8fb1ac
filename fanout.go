package serial

// Fanout returns a Listener that calls each non-nil listener in order with
// the same chunk.
func Fanout(listeners ...Listener) Listener {
	ls := make([]Listener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			ls = append(ls, l)
		}
	}
	return func(chunk []byte) {
		for _, l := range ls {
			l(chunk)
		}
	}
}
