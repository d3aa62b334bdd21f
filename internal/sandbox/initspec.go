package sandbox

// InitSpec is the contract between the runner and the jailinit helper. The
// runner pipes it to jailinit's stdin as JSON; jailinit applies it inside the
// fresh namespaces and execs the step command.
type InitSpec struct {
	WorkDir    string     `json:"work_dir"`
	Command    []string   `json:"command"`
	Env        []string   `json:"env"`
	StdoutPath string     `json:"stdout_path"`
	StderrPath string     `json:"stderr_path"`
	UID        uint32     `json:"uid"`
	GID        uint32     `json:"gid"`
	Limits     InitLimits `json:"limits"`
}

// InitLimits are the per-process bounds jailinit applies with setrlimit
// before dropping privileges. The group-wide bounds (memory, pid count)
// stay with the runner's cgroup.
type InitLimits struct {
	CPUSeconds      int64 `json:"cpu_seconds"`
	MaxFileBytes    int64 `json:"max_file_bytes"`
	MaxProcessBytes int64 `json:"max_process_bytes"`
	MaxPids         int64 `json:"max_pids"`
}
