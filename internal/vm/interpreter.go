package vm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

// Sentinel errors for the VM's expected failure modes, per spec.md §7.
var (
	ErrOutOfGas       = errors.New("vm: out of gas")
	ErrStackUnderflow = errors.New("vm: stack underflow")
	ErrInvalidJump    = errors.New("vm: invalid jump destination")
	ErrInvalidOpcode  = errors.New("vm: invalid opcode")
)

// DefaultGasLimit is the gas limit applied when a call context specifies
// none, per spec.md §8's boundary example.
const DefaultGasLimit = 1_000_000

// TraceHandler is invoked once per executed opcode when tracing is
// enabled, mirroring the teacher's EventHandler hook used elsewhere in
// this module (internal/chain.EventHandler) so the VM never imports a
// logging package directly.
type TraceHandler func(pc int, op Opcode, gasUsed uint64)

func noopTrace(pc int, op Opcode, gasUsed uint64) {}

// Log is one entry emitted by the LOG opcode.
type Log struct {
	Topic string
	Data  []byte
}

// CallContext carries the caller-supplied execution parameters: the
// calling address, the value attached to the call, and the calldata
// bytes, per spec.md §4.7.
type CallContext struct {
	Caller   string
	Value    *uint256.Int
	Data     []byte
	GasLimit uint64
	Trace    TraceHandler
}

// Result is the execution contract from spec.md §4.7:
// execute(bytecode) -> {success, gas_used, return_data, storage, logs,
// stack, error}.
type Result struct {
	Success    bool
	GasUsed    uint64
	ReturnData []byte
	Storage    map[string]*uint256.Int
	Logs       []Log
	Stack      []*uint256.Int
	Err        error
}

// Execute runs bytecode against the given storage snapshot and call
// context. storage is read-only to the caller: Execute clones it before
// mutating, and only returns the mutated copy in Result.Storage when
// execution succeeds (STOP/fall-off/RETURN); on REVERT or any trap,
// Result.Storage is the original, untouched snapshot, per spec.md §4.7's
// "storage is not persisted on failure" rule.
func Execute(bytecode []byte, storage map[string]*uint256.Int, ctx CallContext) Result {
	if ctx.GasLimit == 0 {
		ctx.GasLimit = DefaultGasLimit
	}
	if ctx.Trace == nil {
		ctx.Trace = noopTrace
	}
	if ctx.Value == nil {
		ctx.Value = uint256.NewInt(0)
	}

	jumpdests := scanJumpdests(bytecode)

	m := &machine{
		code:      bytecode,
		storage:   cloneStorage(storage),
		memory:    make(map[uint64]*uint256.Int),
		ctx:       ctx,
		jumpdests: jumpdests,
	}

	err := m.run()

	result := Result{
		GasUsed:    m.gasUsed,
		ReturnData: m.returnData,
		Logs:       m.logs,
		Stack:      m.stack,
		Err:        err,
	}

	switch {
	case err == nil:
		result.Success = true
		result.Storage = m.storage
	default:
		result.Success = false
		result.Storage = cloneStorage(storage)
	}

	return result
}

// machine holds the interpreter's mutable execution state.
type machine struct {
	code      []byte
	pc        int
	stack     []*uint256.Int
	memory    map[uint64]*uint256.Int
	storage   map[string]*uint256.Int
	gasUsed   uint64
	returnData []byte
	logs      []Log
	jumpdests map[int]bool
	ctx       CallContext
}

var errStop = errors.New("vm: stop")
var errReturn = errors.New("vm: return")

type revertError struct{ data []byte }

func (e *revertError) Error() string { return "vm: reverted" }

func (m *machine) run() error {
	for {
		if m.pc >= len(m.code) {
			return nil // fall-off: success
		}

		op := Opcode(m.code[m.pc])

		cost, known := gasCost[op]
		if !known {
			return fmt.Errorf("%w: 0x%02x at pc=%d", ErrInvalidOpcode, byte(op), m.pc)
		}
		if m.gasUsed+cost > m.ctx.GasLimit {
			return ErrOutOfGas
		}
		m.gasUsed += cost

		m.ctx.Trace(m.pc, op, m.gasUsed)

		halt, err := m.step(op)
		if err != nil {
			var rv *revertError
			if errors.As(err, &rv) {
				m.returnData = rv.data
				return err
			}
			return err
		}
		if halt {
			return nil
		}
	}
}

// step executes one opcode. It returns halt=true on STOP/RETURN (success
// halt) and advances m.pc itself so that jumps can set it directly.
func (m *machine) step(op Opcode) (halt bool, err error) {
	switch op {
	case STOP:
		return true, nil

	case PUSH1:
		b, err := m.codeByte(m.pc + 1)
		if err != nil {
			return false, err
		}
		m.push(uint256.NewInt(uint64(b)))
		m.pc += 2
		return false, nil

	case PUSH32:
		var b [32]byte
		for i := 0; i < 32; i++ {
			v, err := m.codeByte(m.pc + 1 + i)
			if err != nil {
				return false, err
			}
			b[i] = v
		}
		m.push(new(uint256.Int).SetBytes(b[:]))
		m.pc += 33
		return false, nil

	case POP:
		if _, err := m.pop(); err != nil {
			return false, err
		}
		m.pc++
		return false, nil

	case DUP:
		top, err := m.peek()
		if err != nil {
			return false, err
		}
		m.push(new(uint256.Int).Set(top))
		m.pc++
		return false, nil

	case SWAP:
		if len(m.stack) < 2 {
			return false, ErrStackUnderflow
		}
		n := len(m.stack)
		m.stack[n-1], m.stack[n-2] = m.stack[n-2], m.stack[n-1]
		m.pc++
		return false, nil

	case ADD, SUB, MUL, DIV, MOD, LT, GT, EQ, AND, OR:
		b, err := m.pop()
		if err != nil {
			return false, err
		}
		a, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(binaryOp(op, a, b))
		m.pc++
		return false, nil

	case ISZERO, NOT:
		a, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(unaryOp(op, a))
		m.pc++
		return false, nil

	case JUMP:
		dest, err := m.pop()
		if err != nil {
			return false, err
		}
		return false, m.jumpTo(dest)

	case JUMPI:
		dest, err := m.pop()
		if err != nil {
			return false, err
		}
		cond, err := m.pop()
		if err != nil {
			return false, err
		}
		if cond.IsZero() {
			m.pc++
			return false, nil
		}
		return false, m.jumpTo(dest)

	case JUMPDEST:
		m.pc++
		return false, nil

	case CALLER:
		m.push(addressToUint256(m.ctx.Caller))
		m.pc++
		return false, nil

	case CALLVALUE:
		m.push(new(uint256.Int).Set(m.ctx.Value))
		m.pc++
		return false, nil

	case CALLDATALOAD:
		offset, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(loadCalldataWindow(m.ctx.Data, offset))
		m.pc++
		return false, nil

	case CALLDATASIZE:
		m.push(uint256.NewInt(uint64(len(m.ctx.Data))))
		m.pc++
		return false, nil

	case SLOAD:
		key, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(storageLoad(m.storage, key))
		m.pc++
		return false, nil

	case SSTORE:
		key, err := m.pop()
		if err != nil {
			return false, err
		}
		val, err := m.pop()
		if err != nil {
			return false, err
		}
		m.storage[key.Dec()] = val
		m.pc++
		return false, nil

	case MLOAD:
		offset, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(memoryGet(m.memory, offset.Uint64()))
		m.pc++
		return false, nil

	case MSTORE:
		offset, err := m.pop()
		if err != nil {
			return false, err
		}
		val, err := m.pop()
		if err != nil {
			return false, err
		}
		m.memory[offset.Uint64()] = val
		m.pc++
		return false, nil

	case RETURN:
		m.returnData = m.encodeStackTop()
		return true, nil

	case REVERT:
		return false, &revertError{data: m.encodeStackTop()}

	case LOG:
		if len(m.stack) == 0 {
			return false, ErrStackUnderflow
		}
		top := m.stack[len(m.stack)-1]
		m.logs = append(m.logs, Log{Topic: "LOG", Data: top.Bytes()})
		m.pc++
		return false, nil
	}

	return false, fmt.Errorf("%w: 0x%02x at pc=%d", ErrInvalidOpcode, byte(op), m.pc)
}

func (m *machine) encodeStackTop() []byte {
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1].Bytes()
}

func (m *machine) codeByte(i int) (byte, error) {
	if i >= len(m.code) {
		return 0, nil // short immediates at end of code are zero-padded
	}
	return m.code[i], nil
}

func (m *machine) push(v *uint256.Int) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop() (*uint256.Int, error) {
	if len(m.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) peek() (*uint256.Int, error) {
	if len(m.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	return m.stack[len(m.stack)-1], nil
}

func (m *machine) jumpTo(dest *uint256.Int) error {
	d := int(dest.Uint64())
	if !m.jumpdests[d] {
		return ErrInvalidJump
	}
	m.pc = d
	return nil
}

func binaryOp(op Opcode, a, b *uint256.Int) *uint256.Int {
	r := new(uint256.Int)
	switch op {
	case ADD:
		return r.Add(a, b)
	case SUB:
		return r.Sub(a, b)
	case MUL:
		return r.Mul(a, b)
	case DIV:
		if b.IsZero() {
			return r.Clear()
		}
		return r.Div(a, b)
	case MOD:
		if b.IsZero() {
			return r.Clear()
		}
		return r.Mod(a, b)
	case LT:
		if a.Lt(b) {
			return r.SetOne()
		}
		return r.Clear()
	case GT:
		if a.Gt(b) {
			return r.SetOne()
		}
		return r.Clear()
	case EQ:
		if a.Eq(b) {
			return r.SetOne()
		}
		return r.Clear()
	case AND:
		return r.And(a, b)
	case OR:
		return r.Or(a, b)
	}
	return r
}

func unaryOp(op Opcode, a *uint256.Int) *uint256.Int {
	r := new(uint256.Int)
	switch op {
	case ISZERO:
		if a.IsZero() {
			return r.SetOne()
		}
		return r.Clear()
	case NOT:
		return r.Not(a)
	}
	return r
}

// scanJumpdests runs the preliminary pass required by spec.md §4.7:
// identify valid JUMPDEST positions while skipping bytes embedded in
// PUSH1/PUSH32 immediates.
func scanJumpdests(code []byte) map[int]bool {
	dests := make(map[int]bool)
	for i := 0; i < len(code); {
		op := Opcode(code[i])
		switch op {
		case PUSH1:
			i += 2
		case PUSH32:
			i += 33
		case JUMPDEST:
			dests[i] = true
			i++
		default:
			i++
		}
	}
	return dests
}

func cloneStorage(src map[string]*uint256.Int) map[string]*uint256.Int {
	dst := make(map[string]*uint256.Int, len(src))
	for k, v := range src {
		dst[k] = new(uint256.Int).Set(v)
	}
	return dst
}

// storageLoad reads a contract storage slot keyed by its full 256-bit key,
// per spec.md §3's "mapping from 256-bit key to 256-bit value" -- unlike
// memory, which is addressed by byte offset and fits in a uint64, storage
// keys must not be narrowed.
func storageLoad(m map[string]*uint256.Int, key *uint256.Int) *uint256.Int {
	if v, ok := m[key.Dec()]; ok {
		return new(uint256.Int).Set(v)
	}
	return uint256.NewInt(0)
}

func memoryGet(m map[uint64]*uint256.Int, key uint64) *uint256.Int {
	if v, ok := m[key]; ok {
		return new(uint256.Int).Set(v)
	}
	return uint256.NewInt(0)
}

func loadCalldataWindow(data []byte, offsetInt *uint256.Int) *uint256.Int {
	offset := offsetInt.Uint64()
	var window [32]byte
	for i := 0; i < 32; i++ {
		idx := offset + uint64(i)
		if idx < uint64(len(data)) {
			window[i] = data[idx]
		}
	}
	return new(uint256.Int).SetBytes(window[:])
}

// addressToUint256 maps an opaque address string (the caller's public key
// or a "contract_..." address, per spec.md §6.1/§6.3) onto a 256-bit word
// the VM can push. Per spec.md §9, this truncates the address to its first
// 16 hex characters and parses them as a number -- a deliberately lossy
// mapping, not silently widened into something collision-resistant.
func addressToUint256(addr string) *uint256.Int {
	hexPart := addr
	if len(hexPart) > 16 {
		hexPart = hexPart[:16]
	}

	n, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return uint256.NewInt(0)
	}
	return uint256.NewInt(n)
}
