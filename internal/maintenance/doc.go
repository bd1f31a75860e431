// Package maintenance runs periodic housekeeping on the store: journal and
// WAL compaction, dedup expiry and pruning of old live events.
package maintenance
