// Package store defines the aggregate persistence interface. The job
// repository, the history analytics and the client directory are separate
// contracts; a backend implements all of them. Backends: Postgres and
// Memory. The dispatch index is not part of the store: it is derived state
// kept in queue.Index implementations (memory, Redis, or the Postgres
// dispatch table).
package store
