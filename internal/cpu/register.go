package cpu

// Register installs every handler this package implements into the decoder
// package's opcode tables (§4.5). Each RegisterOp* call just overwrites its
// table slot, so Register is safe to call more than once — callers that want
// a clean table first (package tests, mainly) pair it with decoder.Reset().
func Register() {
	registerALU()
	registerIncDec()
	registerTest()
	registerMov()
	registerStack()
	registerControl()
}
