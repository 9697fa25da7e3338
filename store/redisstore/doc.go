// Package redisstore persists lockguard user records in Redis.
//
// # Key layout
//
//	<prefix>:user:<id>                 JSON document, no TTL
//	<prefix>:idx:<field>:<value>       record ID for one lookup value
//
// Username and email index values are lower-cased. Create and Save run as
// WATCH/MULTI transactions over the record key and every index key they touch,
// so a concurrent writer aborts the transaction instead of interleaving. Save
// compares the stored version inside the watched read.
//
// # What this package must NOT do
//
//   - Set TTLs on records. Expiry of locks and tokens is evaluated by the engine.
//   - Return records that share memory with a caller's input.
package redisstore
