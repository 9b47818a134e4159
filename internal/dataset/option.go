package dataset

// Option holds a value that may be absent. Normalized records use it for every optional
// field and sub-structure so that "absent" and "present but empty" stay distinct.
type Option[T any] struct {
	v  T
	ok bool
}

func Some[T any](v T) Option[T] { return Option[T]{v: v, ok: true} }

func None[T any]() Option[T] { return Option[T]{} }

func (o Option[T]) Get() (T, bool) { return o.v, o.ok }

func (o Option[T]) IsSet() bool { return o.ok }

// OrElse returns the held value, or def when absent.
func (o Option[T]) OrElse(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// OrNil returns the held value as any, or nil when absent. Row builders use it to emit NULL.
func (o Option[T]) OrNil() any {
	if o.ok {
		return o.v
	}
	return nil
}
