package schema

// ProgramVersion is the program version as filled in by the Makefile.
var ProgramVersion = "devel"

// Par2Extension is the canonical suffix used to recognize a recovery-set
// packet file regardless of the volume-numbering convention in front of it.
const Par2Extension = ".par2"

const (
	ExitCodeSuccess             int = 0
	ExitCodeRepairPossible      int = 1 // ErrExitRepairPossible
	ExitCodeRepairNotPossible   int = 2 // ErrExitRepairNotPossible
	ExitCodeRepairFailed        int = 3 // ErrExitRepairFailed
	ExitCodeFileIO              int = 4 // ErrExitFileIO
	ExitCodeLogic               int = 5 // ErrExitLogic
	ExitCodeMemory              int = 6 // ErrExitMemory
	ExitCodeBadInvocation       int = 7 // ErrExitBadInvocation
	ExitCodeInsufficientPackets int = 8 // ErrExitInsufficientPackets
)

type ctxKey int

const (
	PosKey  ctxKey = iota
	MposKey ctxKey = iota
	PrioKey ctxKey = iota
)
