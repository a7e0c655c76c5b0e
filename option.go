package netpilot

// Option carries a value that may be deliberately unset, so a caller can
// distinguish "use the session default" from an explicit zero value.
type Option[T any] struct {
	set   bool
	value T
}

// Some returns an Option holding v.
func Some[T any](v T) Option[T] {
	return Option[T]{set: true, value: v}
}

// Unset reports whether no value was supplied.
func (o Option[T]) Unset() bool { return !o.set }

// Or returns the held value, or fallback when unset.
func (o Option[T]) Or(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}
