package asm

//go:generate stringer -output func_string.go -type=BuiltinFunc

// BuiltinFunc is a built-in helper callable from hook programs.
type BuiltinFunc int32

// Helpers available to hook programs. Calls to any other function
// number are rejected when a program is loaded.
const (
	FnUnspec BuiltinFunc = iota
	// FnMapLookupElem - void *map_lookup_elem(&map, &key)
	// Return: map value or NULL
	FnMapLookupElem
	// FnMapUpdateElem - int map_update_elem(&map, &key, &value, flags)
	// Return: 0 on success or negative error
	FnMapUpdateElem
	// FnMapDeleteElem - int map_delete_elem(&map, &key)
	// Return: 0 on success or negative error
	FnMapDeleteElem
	// FnProbeRead - int probe_read(void *dst, int size, void *src)
	// Return: 0 on success or negative error
	FnProbeRead
	// FnKtimeGetNs - u64 ktime_get_ns(void)
	// Return: current ktime
	FnKtimeGetNs
	// FnTracePrintk - int trace_printk(const char *fmt, int fmt_size, ...)
	// Return: length of buffer written or negative error
	FnTracePrintk
	// FnGetPrandomU32 - u32 get_prandom_u32(void)
	// Return: random value
	FnGetPrandomU32
	// FnGetSmpProcessorId - u32 get_smp_processor_id(void)
	// Return: lane the program is executing on
	FnGetSmpProcessorId
	// FnGetCurrentPidTgid - u64 get_current_pid_tgid(void)
	// Return: tgid << 32 | pid
	FnGetCurrentPidTgid
	// FnGetCurrentUidGid - u64 get_current_uid_gid(void)
	// Return: gid << 32 | uid
	FnGetCurrentUidGid
	// FnGetCurrentComm - int get_current_comm(void *buf, int size)
	// Return: 0 on success or negative error
	FnGetCurrentComm
	// FnPerfEventOutput - int perf_event_output(ctx, &map, flags, &data, size)
	// Return: 0 on success or negative error
	FnPerfEventOutput
	// FnProbeReadStr - int probe_read_str(void *dst, int size, const void *src)
	// Return: strlen including NUL on success or negative error
	FnProbeReadStr
)

// Call emits a function call to the helper.
func (fn BuiltinFunc) Call() Instruction {
	return Instruction{
		OpCode:   OpCode(JumpClass).SetJumpOp(Call),
		Constant: int64(fn),
	}
}
