package vmm

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
	"github.com/buildkite/fcvmm/sys"
)

// jailedDevice describes one character device the chroot must contain
// before Firecracker starts, per §4.6.2 step 4.
type jailedDevice struct {
	name         string
	major, minor uint32
}

var jailedDevices = []jailedDevice{
	{"null", 1, 3},
	{"urandom", 1, 9},
	{"kvm", 10, 232},
	{"net/tun", 10, 200},
}

// JailedExecutor runs Firecracker inside an ownership-aware chroot rooted
// at <chroot_base>/firecracker/<jail_id>/root, materializing every input
// resource according to its declared ResourceMove. Grounded on §4.6.2 and
// on original_source/src/vmm_executor/jailed.rs's JailedVmmExecutor.
type JailedExecutor struct {
	mu sync.Mutex

	syscalls sys.Syscalls

	jailID        ID
	chrootBaseDir string

	state      ExecutorState
	args       FirecrackerArguments
	jailerArgs JailerArguments
	inputs     []ResourceInput
	mapping    *PathMapping
	pty        bool

	// apiSocketHostPath is args.APISocketPath jail-joined onto the chroot
	// root: the path the host connects to, as opposed to args.APISocketPath
	// itself, which stays the in-jail path Firecracker is told to bind
	// (e.g. "/run/fc.sock") since Firecracker only ever sees the world
	// through the jailer's chroot.
	apiSocketHostPath string

	handle runtime.ChildHandle
	pid    int
}

// NewJailedExecutor constructs an unprepared jailed executor. syscalls
// backs the mknod calls needed to populate the chroot's /dev.
func NewJailedExecutor(jailID ID, chrootBaseDir string, syscalls sys.Syscalls) *JailedExecutor {
	return &JailedExecutor{
		state:         ExecutorUnprepared,
		jailID:        jailID,
		chrootBaseDir: chrootBaseDir,
		syscalls:      syscalls,
		mapping:       NewPathMapping(),
	}
}

// jailDir is <chroot_base>/firecracker/<jail_id>, the subtree Cleanup
// removes wholesale.
func (e *JailedExecutor) jailDir() string {
	return filepath.Join(e.chrootBaseDir, "firecracker", e.jailID.String())
}

// chrootRoot is <chroot_base>/firecracker/<jail_id>/root, the directory
// Firecracker itself is chrooted into.
func (e *JailedExecutor) chrootRoot() string {
	return filepath.Join(e.jailDir(), "root")
}

func (e *JailedExecutor) State() ExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *JailedExecutor) OuterPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := make([]string, 0, len(e.inputs))
	for _, in := range e.inputs {
		paths = append(paths, in.OuterPath)
	}
	return paths
}

func (e *JailedExecutor) InnerToOuter(inner string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mapping.Outer(inner)
}

// innerPathFor computes the jailed location of an outer path: the chroot
// root plus the outer path with its leading slash trimmed, preserving
// every directory component rather than collapsing to a base name (so
// e.g. /srv/vms/vm1/rootfs.ext4 becomes <root>/srv/vms/vm1/rootfs.ext4,
// never colliding with another input that merely shares a file name).
func (e *JailedExecutor) innerPathFor(outerPath string) string {
	return filepath.Join(e.chrootRoot(), strings.TrimPrefix(outerPath, "/"))
}

func (e *JailedExecutor) Prepare(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel, inputs PrepareInputs) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != ExecutorUnprepared {
		return incorrectStateErr(ExecutorUnprepared, e.state)
	}

	// Step 1: create the chroot tree and apply the ownership model.
	if err := rt.FS().CreateDirAll(ctx, e.chrootRoot(), 0o755); err != nil {
		return prepareErr(PrepareKindFilesystem, err)
	}
	if err := applyOwnership(ctx, rt, e.chrootRoot(), ownership); err != nil {
		return prepareErr(PrepareKindChangeOwner, err)
	}

	mapping := NewPathMapping()

	// Step 2: materialize every input resource concurrently through a
	// JoinSet — each input's move and ownership follow-up touch only its
	// own files, so nothing here needs to serialize, and one input's
	// failure cancels the rest rather than waiting them out. Mirrors
	// join_on_set's concurrent resource-init pass in the original
	// executor. innerPaths is precomputed (pure path arithmetic, no I/O)
	// so the post-Wait mapping.Set loop below stays single-threaded.
	innerPaths := make([]string, len(inputs.Inputs))
	for i, in := range inputs.Inputs {
		innerPaths[i] = e.innerPathFor(in.OuterPath)
	}

	moves := runtime.NewJoinSet(ctx)
	for i, in := range inputs.Inputs {
		in, innerPath := in, innerPaths[i]
		moves.Spawn(func(jobCtx context.Context) error {
			if err := in.Move.apply(jobCtx, rt, in.OuterPath, innerPath); err != nil {
				return prepareErr(PrepareKindFilesystem, err)
			}
			if err := applyResourceOwnership(jobCtx, rt, innerPath, ownership); err != nil {
				return prepareErr(PrepareKindChangeOwner, err)
			}
			return nil
		})
	}
	if err := moves.Wait(); err != nil {
		return err
	}
	for i, in := range inputs.Inputs {
		mapping.Set(in.OuterPath, innerPaths[i])
	}

	// Step 3: output paths need only their inner parent directory created
	// on the host, at its jail-joined location; the file itself is
	// created by Firecracker at runtime, from inside the chroot, at the
	// unmodified in-jail path the caller gave us. args keeps those in-jail
	// paths verbatim — Firecracker is chrooted into e.chrootRoot() by the
	// jailer, so its argv must never see a jail-joined path, only the one
	// it resolves on its own. e.apiSocketHostPath is recorded separately
	// as the path the host itself must dial to reach that same socket.
	args := inputs.Arguments
	var apiSocketHostPath string
	for i, outer := range []string{args.APISocketPath, args.LogPath, args.MetricsPath} {
		if outer == "" {
			continue
		}
		inner := e.innerPathFor(outer)
		if err := rt.FS().CreateDirAll(ctx, parentDir(inner), 0o755); err != nil {
			return prepareErr(PrepareKindFilesystem, err)
		}
		mapping.Set(outer, inner)
		if i == 0 {
			apiSocketHostPath = inner
		}
	}

	// Step 4: populate /dev with the character devices Firecracker needs.
	devDir := filepath.Join(e.chrootRoot(), "dev")
	if err := rt.FS().CreateDirAll(ctx, filepath.Join(devDir, "net"), 0o755); err != nil {
		return prepareErr(PrepareKindFilesystem, err)
	}
	for _, dev := range jailedDevices {
		path := filepath.Join(devDir, dev.name)
		if err := e.syscalls.MknodChar(path, 0o666, dev.major, dev.minor); err != nil {
			return prepareErr(PrepareKindSyscall, err)
		}
	}

	jailerArgs := inputs.JailerArguments
	jailerArgs.JailID = e.jailID
	jailerArgs.UID = ownership.UID
	jailerArgs.GID = ownership.GID
	jailerArgs.ExecFile = inst.FirecrackerPath
	jailerArgs.ChrootBaseDir = e.chrootBaseDir

	e.args = args
	e.jailerArgs = jailerArgs
	e.inputs = inputs.Inputs
	e.mapping = mapping
	e.apiSocketHostPath = apiSocketHostPath
	e.pty = inputs.PTY
	e.state = ExecutorPrepared
	return nil
}

func (e *JailedExecutor) Invoke(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) (RunningInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != ExecutorPrepared {
		return RunningInfo{}, incorrectStateErr(ExecutorPrepared, e.state)
	}

	argv := append(e.jailerArgs.Build(), "--")
	argv = append(argv, e.args.Build()...)

	handle, err := sp.Spawn(ctx, rt, spawner.Request{
		BinaryPath:  inst.JailerPath,
		Argv:        argv,
		PipesNeeded: true,
		PTY:         e.pty,
	})
	if err != nil {
		return RunningInfo{}, invokeErr(err)
	}

	e.handle = handle
	e.pid = handle.PID()
	e.state = ExecutorRunning

	return RunningInfo{
		PID:           e.pid,
		APISocketPath: e.apiSocketHostPath,
		ChildHandle:   handle,
	}, nil
}

func (e *JailedExecutor) Cleanup(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == ExecutorCleanedUp {
		return nil
	}
	if e.state != ExecutorRunning && e.state != ExecutorPrepared {
		return incorrectStateErr(ExecutorRunning, e.state)
	}

	// The entire chroot subtree is removed regardless of which
	// ResourceMove materialized each input; a Rename'd input is gone from
	// its original outer location and is never restored.
	err := rt.FS().RemoveDirAll(ctx, e.jailDir())
	e.state = ExecutorCleanedUp
	if err != nil {
		return cleanupErr(CleanupKindFilesystem, err)
	}
	return nil
}
