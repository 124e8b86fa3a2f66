package builder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nexis-project/nexispm/internal/config"
)

// toolchainCommands maps a declared build_system tag to the subprocess
// invocations run inside the unpacked source tree, in order. Each inner
// slice is one command; buildFlags are appended to the first command that
// takes them: "make" for make and configure, the configure step for cmake
// ("cmake -B build") and meson ("meson setup build"), "cargo build",
// "npm install", and "python3 setup.py install".
func toolchainCommands(system config.BuildSystem, buildFlags []string) ([][]string, error) {
	switch system {
	case config.BuildSystemMake:
		return [][]string{append([]string{"make"}, buildFlags...), {"make", "install"}}, nil
	case config.BuildSystemConfigure:
		return [][]string{
			{"./configure"},
			append([]string{"make"}, buildFlags...),
			{"make", "install"},
		}, nil
	case config.BuildSystemCMake:
		cmakeArgs := append([]string{"cmake", "-B", "build"}, buildFlags...)
		return [][]string{cmakeArgs, {"cmake", "--build", "build"}, {"cmake", "--install", "build"}}, nil
	case config.BuildSystemMeson:
		return [][]string{
			append([]string{"meson", "setup", "build"}, buildFlags...),
			{"ninja", "-C", "build"},
			{"ninja", "-C", "build", "install"},
		}, nil
	case config.BuildSystemCargo:
		return [][]string{append([]string{"cargo", "build", "--release"}, buildFlags...)}, nil
	case config.BuildSystemNPM:
		return [][]string{append([]string{"npm", "install"}, buildFlags...), {"npm", "run", "build"}}, nil
	case config.BuildSystemPython:
		return [][]string{append([]string{"python3", "setup.py", "install"}, buildFlags...)}, nil
	case config.BuildSystemCustom:
		return nil, nil // the pre/post-build hooks are the entire custom build
	default:
		return nil, fmt.Errorf("unknown build system %q", system)
	}
}

// runCommand executes one toolchain step inside dir with env as its whole
// environment (a nil env inherits the process environment), returning a
// BuildError on non-zero exit or context deadline.
func runCommand(ctx context.Context, pkgName, dir string, args []string, env []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return &BuildError{Kind: KindTimeout, Package: pkgName,
			Detail: fmt.Sprintf("%s timed out: %s", strings.Join(args, " "), out), Cause: ctx.Err()}
	}
	if err != nil {
		return &BuildError{Kind: KindToolchainFailed, Package: pkgName,
			Detail: fmt.Sprintf("%s failed: %v: %s", strings.Join(args, " "), err, out), Cause: err}
	}
	return nil
}
