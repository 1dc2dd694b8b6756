// Package relay bridges the durable event queue to the activity log and the
// live hub.
//
// Each queue message is handled to completion before the next one is read:
// decode, persist, push to the hub, then acknowledge. Persistence failures are
// negatively acknowledged so the broker redelivers; the hub push is best
// effort and never holds back the acknowledgement, because the activity log
// is the durable source of truth.
package relay
