package main

const rootUsage = "par2verify"

const rootHelpShort = "PAR2 recovery-set verifier and repairer"

const rootHelpLong = `par2verify - PAR2 recovery-set verifier and repairer
Native block-level verification and Reed-Solomon repair

par2verify loads a PAR2 recovery set, locates its protected files'
blocks on disk (even under the wrong name or split across stray
files) via a sliding-window scan, and — on request — recomputes
and writes back whatever is missing, using the recovery blocks
already present in the set.

See 'par2verify <command> --help' for command-specific information.`

const verifyUsage = "verify [flags] <index.par2> [extra-file...]"

const verifyHelpShort = "Verifies a recovery set's protected files against its recovery blocks"

const verifyHelpLong = `Scans a recovery set's protected files for missing or damaged blocks
Reports, per protected file, how much of its data could be located

<index.par2> is the recovery set's index file (its "set.par2" packet
file, not a "set.vol000+001.par2" volume - those are discovered
automatically alongside it). Any [extra-file...] paths are scanned
as additional candidates if the protected files themselves do not
account for every block - useful when a file was renamed or split.

Exits non-zero when any block could not be located; see the exit
code table in the documentation for the distinction between
"repair possible" and "repair not possible".`

const verifyHelpExample = `
Verify a recovery set:
  par2verify verify /data/movie.par2

Verify, also considering a renamed candidate:
  par2verify verify /data/movie.par2 /data/movie.bin.orig

Verify quietly, emitting only JSON to stdout:
  par2verify verify --json --noise-level silent /data/movie.par2`

const repairUsage = "repair [flags] <index.par2> [extra-file...]"

const repairHelpShort = "Repairs a recovery set's protected files using its recovery blocks"

const repairHelpLong = `Verifies a recovery set, then repairs whatever blocks are missing
Renames misplaced-but-complete files into place before repairing

Same discovery and scanning behavior as "verify". If repair is
possible (enough recovery blocks are available for what is
missing), the protected files' target paths are (re-)created and
the missing blocks are recomputed and written. The repaired output
is re-verified before this command reports success.

An incomplete file occupying a protected file's target path is
never overwritten: it is backed up first under a ".1", ".2", ...
suffix.`

const repairHelpExample = `
Repair a recovery set:
  par2verify repair /data/movie.par2

Repair with a 64 MiB per-chunk memory budget:
  par2verify repair --memory-limit 64MiB /data/movie.par2`
