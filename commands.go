package carmine

// Command builder functions append one wire request to a Session's pending
// pipeline and return any argument-coercion error immediately, without
// waiting for a flush. One small function per command rather than a
// generic variadic `Do(name, args...)` escape hatch, though Command is
// kept below for commands this table doesn't cover yet. The full command
// surface is mechanical to extend; this table covers what the client
// itself and its tests exercise.

func (s *Session) enqueueCommand(name string, args ...any) error {
	coerced, err := CoerceArgs(s.freezer, name, args...)
	if err != nil {
		return err
	}
	s.Enqueue(coerced)
	return nil
}

// Command enqueues an arbitrary command by name, for anything this file's
// named wrappers don't cover.
func (s *Session) Command(name string, args ...any) error {
	return s.enqueueCommand(name, args...)
}

// Ping enqueues PING, with an optional single echo message.
func (s *Session) Ping(message ...string) error {
	if len(message) == 0 {
		return s.enqueueCommand("PING")
	}
	return s.enqueueCommand("PING", message[0])
}

// Get enqueues GET key.
func (s *Session) Get(key string) error {
	return s.enqueueCommand("GET", key)
}

// Set enqueues SET key value.
func (s *Session) Set(key string, value any) error {
	return s.enqueueCommand("SET", key, value)
}

// Incr enqueues INCR key.
func (s *Session) Incr(key string) error {
	return s.enqueueCommand("INCR", key)
}

// Del enqueues DEL key [key ...].
func (s *Session) Del(keys ...string) error {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.enqueueCommand("DEL", args...)
}

// Exists enqueues EXISTS key [key ...].
func (s *Session) Exists(keys ...string) error {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.enqueueCommand("EXISTS", args...)
}

// Expire enqueues EXPIRE key seconds.
func (s *Session) Expire(key string, seconds int64) error {
	return s.enqueueCommand("EXPIRE", key, seconds)
}

// Dump enqueues DUMP key. Its reply's bulk payload is an opaque blob the
// server alone knows how to produce and consume; carmine never parses it.
// Tundra pairs it with Restore to mirror keys through a datastore.
func (s *Session) Dump(key string) error {
	return s.enqueueCommand("DUMP", key)
}

// Restore enqueues RESTORE key ttl serialized-value [REPLACE]. ttl is
// milliseconds, 0 meaning no expiry. serialized is the opaque blob a prior
// DUMP (or a tundra datastore fetch) produced; it bypasses argument
// coercion entirely, since the server's own serialization may begin with
// any byte, the null terminator included.
func (s *Session) Restore(key string, ttlMillis int64, serialized []byte, replace bool) error {
	args, err := CoerceArgs(s.freezer, "RESTORE", key, ttlMillis)
	if err != nil {
		return err
	}
	args = append(args, serialized)
	if replace {
		args = append(args, []byte("REPLACE"))
	}
	s.Enqueue(args)
	return nil
}

// Asking enqueues the one-shot ASKING prelude. Most callers never need
// this directly: the cluster dispatcher issues it automatically on an ASK
// redirect retry.
func (s *Session) Asking() error {
	return s.enqueueCommand("ASKING")
}
