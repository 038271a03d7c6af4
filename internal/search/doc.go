/*
Package search maintains one bleve index per realm over the catalogue.

# Documents

Every stable catalogue entry becomes a Document keyed by its hash path. The
name, parent path and storage are stored verbatim; the name is also split by
Normalize into lowercase ASCII tokens (the baseName field). Flags and
numeric attributes are indexed for filtering only.

# Writes

Registry.Update applies the delta of one scan in a single batch. A Registry
allows one writer per realm at a time; searches run concurrently and see
the last committed batch. Registry.Reset returns a session that clears the
realm and then streams records in bounded batches, flushing the last partial
batch on Close.

# Queries

A query is a set of alternatives whose scores add up:

	name exact or wildcard        boost 10
	baseName exact or wildcard    boost 8
	name tokens, all required     boost 5
	baseName tokens, all required boost 3
	name fuzzy                    boost 0.5
	baseName per-token fuzzy or substring, all required  boost 0.1

Constraints (flags, date and size ranges, storages, parent) are required
filters on top of that. An empty query with constraints lists every entry
matching them.

Normalization is tuned for Latin scripts. Names in other scripts remain
searchable by exact name only.
*/
package search
