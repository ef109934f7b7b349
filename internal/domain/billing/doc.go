// Package billing describes the remote billing provider as seen by the core:
// the capability-typed client port, the remote resource shapes it returns,
// and the subscription lifecycle.
//
// The provider's own API semantics are opaque. The core depends only on the
// call contract below: every operation either returns a value or fails loudly,
// and every operation fails with ErrRemoteNotConfigured when no credential is
// configured.
//
// Key types:
//   - RemoteClient: customers, payment methods, products, prices, subscriptions
//   - SubscriptionStatus: active / cancelled
//   - CancelPolicy: per-subscriber options used when a subscription is cancelled
package billing
