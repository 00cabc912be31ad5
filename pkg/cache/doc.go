/*
Package cache persists compiled render plans keyed by template identity and
decides whether a stored plan may still be served.

An entry is fresh when it was written no earlier than the source's last
modification, or, when the source is newer, while the entry is younger than
the configured max age. Storage failures never reach the caller: a failed
read is a miss and a failed write is logged and dropped.

Three stores are provided. FileStore writes one file per entry with an
atomic replace, SQLiteStore keeps entries in a table of a caller-owned
database, and MemoryStore keeps them in process.
*/
package cache
