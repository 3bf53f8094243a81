// Package auth manages the authenticated session of the listing dashboard.
//
// Session state:
//   - Store holds the current identity, session, loading flag and the
//     urlAuthProcessing coordination flag. Consumers read snapshots and
//     register watchers; they never write.
//   - Synchronizer feeds the store from two sources started together on
//     mount: the identity provider's session change stream and a one-shot
//     fetch of the cached session. Completions are merged through an ordered
//     log. A fetch that was issued before an event arrived is stale and is
//     discarded, so an old snapshot never overwrites a newer event. Loading
//     clears on the first completion and never comes back.
//   - After teardown the subscription is released and late results from the
//     provider are dropped.
//
// Provider and context:
//   - Provider is created once per application mount and exposes the Surface
//     (state, sign up, sign in, sign out, urlAuthProcessing setter, watchers).
//     Mutators return provider errors as values and never write the store;
//     the resulting session change arrives through the stream.
//   - WithSurface/FromContext pass the surface through context.Context.
//     Reading a context without one yields an inert surface whose mutators
//     return ErrNotMounted.
//
// Activity sinks:
//   - ActivitySink receives session and sync events. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue without
//     blocking authentication.
package auth
