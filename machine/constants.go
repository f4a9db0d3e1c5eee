package machine

const (
	// CodeAddr is where LoadCode places guest code by default and where
	// the vcpus start.
	CodeAddr = 0x100000

	// MinMemSize covers CodeAddr plus room for code and a stack.
	MinMemSize = 2 << 20

	codeSelector = 0x8
	dataSelector = 0x10

	// Segment types: execute/read accessed code and read/write
	// accessed data.
	codeSegType = 0xb
	dataSegType = 0x3
)

const (
	// golangci-lint is completely wrong about these names.
	// Control Register Paging Enable for example:
	// golang style requires all letters in an acronym to be caps.
	// CR0 bits.
	CR0xPE = 1
	CR0xMP = (1 << 1)
	CR0xEM = (1 << 2)
	CR0xTS = (1 << 3)
	CR0xET = (1 << 4)
	CR0xNE = (1 << 5)
	CR0xWP = (1 << 16)
	CR0xAM = (1 << 18)
	CR0xNW = (1 << 29)
	CR0xCD = (1 << 30)
	CR0xPG = (1 << 31)

	// CR4 bits.
	CR4xVME        = 1
	CR4xPVI        = (1 << 1)
	CR4xTSD        = (1 << 2)
	CR4xDE         = (1 << 3)
	CR4xPSE        = (1 << 4)
	CR4xPAE        = (1 << 5)
	CR4xMCE        = (1 << 6)
	CR4xPGE        = (1 << 7)
	CR4xPCE        = (1 << 8)
	CR4xOSFXSR     = (1 << 9)
	CR4xOSXMMEXCPT = (1 << 10)

	EFERxSCE = 1
	EFERxLME = (1 << 8)
	EFERxLMA = (1 << 10)
	EFERxNXE = (1 << 11)

	// 64-bit page * entry bits.
	PDE64xPRESENT = 1
	PDE64xRW      = (1 << 1)
	PDE64xUSER    = (1 << 2)
	PDE64xPS      = (1 << 7)

	// flatCR0 is protected mode without paging, as a BIOS would leave it.
	flatCR0 = CR0xPE | CR0xMP | CR0xET | CR0xNE | CR0xWP | CR0xAM
)
