package vm_test

import (
	"testing"

	"github.com/ardanlabs/novaledger/internal/vm"
)

func Test_CompilePushSmallEmitsPush1(t *testing.T) {
	code, err := vm.Compile("PUSH 5")
	if err != nil {
		t.Fatalf("%s\tcompiling should succeed: %s", failed, err)
	}
	if len(code) != 2 || code[0] != byte(vm.PUSH1) || code[1] != 5 {
		t.Fatalf("%s\texpected PUSH1 5, got %v", failed, code)
	}
}

func Test_CompilePushLargeEmitsPush32(t *testing.T) {
	code, err := vm.Compile("PUSH 300")
	if err != nil {
		t.Fatalf("%s\tcompiling should succeed: %s", failed, err)
	}
	if len(code) != 33 || code[0] != byte(vm.PUSH32) {
		t.Fatalf("%s\texpected a 33-byte PUSH32 instruction, got %d bytes", failed, len(code))
	}
}

func Test_CompileCommentsAndBlankLinesIgnored(t *testing.T) {
	src := "// a comment\n\nPUSH 1 // trailing comment\nSTOP\n"
	code, err := vm.Compile(src)
	if err != nil {
		t.Fatalf("%s\tcompiling should succeed: %s", failed, err)
	}
	want := []byte{byte(vm.PUSH1), 1, byte(vm.STOP)}
	if string(code) != string(want) {
		t.Fatalf("%s\texpected %v, got %v", failed, want, code)
	}
}

func Test_CompileCaseInsensitive(t *testing.T) {
	code, err := vm.Compile("push 1\nstop")
	if err != nil {
		t.Fatalf("%s\tlowercase mnemonics should compile: %s", failed, err)
	}
	if len(code) != 3 {
		t.Fatalf("%s\texpected 3 bytes, got %d", failed, len(code))
	}
}

func Test_CompileUnknownInstructionFails(t *testing.T) {
	_, err := vm.Compile("FROBNICATE")
	if err == nil {
		t.Fatalf("%s\tunknown mnemonic should fail to compile", failed)
	}
}

func Test_CompileStoreAndLoad(t *testing.T) {
	code, err := vm.Compile("STORE 3\nLOAD 3")
	if err != nil {
		t.Fatalf("%s\tcompiling should succeed: %s", failed, err)
	}
	want := []byte{byte(vm.PUSH1), 3, byte(vm.SSTORE), byte(vm.PUSH1), 3, byte(vm.SLOAD)}
	if string(code) != string(want) {
		t.Fatalf("%s\texpected %v, got %v", failed, want, code)
	}
}
