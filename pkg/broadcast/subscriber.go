package broadcast

// Subscriber receives items fanned out from one broadcast. Implementations
// are supplied by the embedding protocol layer; the pool only invokes them.
//
// OnNext is called once per inbound item, in subscription order across
// subscribers. OnError reports a transport failure and is always followed by
// OnCompleted. Implementations must be safe for invocation from the
// broadcast's read goroutine and must be comparable (use pointer receivers)
// so that Unsubscribe can identify them.
type Subscriber[T any] interface {
	OnNext(item T)
	OnError(err error)
	OnCompleted()
}
