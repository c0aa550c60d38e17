// Package paths provides standardized filesystem paths.
//
// # Directory Structure
//
//	<overflow root>/            (/dev/shm or the OS temp dir)
//	  └── assemblyline/
//	      └── <queue name>/
//	          ├── env_<ulid>.ovf   (spilled payload, one per envelope)
//	          └── env_<ulid>.tmp   (spill being written)
//
// # Usage
//
//	dir := paths.QueueDir(paths.OverflowRoot(), "etl")
//	file := paths.SpillFile(dir, string(id.NewEnvelopeID()))
package paths
