//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "portwatch"
	srcDir     = "./src/cmd/portwatch"
	pkgs       = "./src/..."
	binDir     = "bin"
	coverDir   = "coverage"
	versionVar = "github.com/jongio/portwatch/src/cmd/portwatch/commands.Version"
)

// platforms are the release targets built by BuildAll.
var platforms = []struct{ goos, goarch string }{
	{"darwin", "amd64"},
	{"darwin", "arm64"},
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"windows", "amd64"},
	{"windows", "arm64"},
}

// Default target formats, lints, tests and builds.
var Default = All

// version is PORTWATCH_VERSION, else the nearest git tag, else "dev".
func version() string {
	if v := os.Getenv("PORTWATCH_VERSION"); v != "" {
		return v
	}
	if v, err := sh.Output("git", "describe", "--tags", "--always", "--dirty"); err == nil && v != "" {
		return strings.TrimPrefix(strings.TrimSpace(v), "v")
	}
	return "dev"
}

func binaryPath(goos, goarch string, qualified bool) string {
	name := binaryName
	if qualified {
		name = fmt.Sprintf("%s-%s-%s", binaryName, goos, goarch)
	}
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(binDir, name)
}

func goBuild(env map[string]string, out, ver string) error {
	ldflags := fmt.Sprintf("-s -w -X %s=%s", versionVar, ver)
	return sh.RunWithV(env, "go", "build", "-trimpath", "-ldflags", ldflags, "-o", out, srcDir)
}

// goTest runs go test over every package.
func goTest(short bool, extra ...string) error {
	args := []string{"test"}
	if short {
		args = append(args, "-short")
	}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	args = append(args, extra...)
	return sh.RunV("go", append(args, pkgs)...)
}

// runTool runs an external checker and prints how to install it on failure.
func runTool(install string, cmd string, args ...string) error {
	if err := sh.RunV(cmd, args...); err != nil {
		fmt.Printf("⚠️  %s failed. Install it with:\n    go install %s\n", cmd, install)
		return err
	}
	return nil
}

// All runs Fmt, Lint and Test, then builds.
func All() error {
	mg.SerialDeps(Fmt, Lint, Test)
	return Build()
}

// Build compiles portwatch for this machine into bin/.
func Build() error {
	ver := version()
	out := binaryPath(runtime.GOOS, runtime.GOARCH, false)
	fmt.Printf("Building %s (%s)...\n", out, ver)

	if err := goBuild(nil, out, ver); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	fmt.Println("✅ Built", out)
	return nil
}

// BuildAll cross-compiles a static binary per release platform.
func BuildAll() error {
	ver := version()
	for _, p := range platforms {
		out := binaryPath(p.goos, p.goarch, true)
		fmt.Printf("Building %s (%s)...\n", out, ver)
		env := map[string]string{"GOOS": p.goos, "GOARCH": p.goarch, "CGO_ENABLED": "0"}
		if err := goBuild(env, out, ver); err != nil {
			return fmt.Errorf("build for %s/%s failed: %w", p.goos, p.goarch, err)
		}
	}
	fmt.Printf("✅ Built %d binaries\n", len(platforms))
	return nil
}

// Test runs the unit tests.
func Test() error {
	return goTest(true)
}

// TestRace runs the unit tests with the race detector.
func TestRace() error {
	return goTest(true, "-race")
}

// TestAll runs every test without -short. TEST_NAME narrows the run and
// TEST_TIMEOUT overrides the 10m limit.
func TestAll() error {
	timeout := os.Getenv("TEST_TIMEOUT")
	if timeout == "" {
		timeout = "10m"
	}
	extra := []string{"-timeout=" + timeout}
	if name := os.Getenv("TEST_NAME"); name != "" {
		extra = append(extra, "-run="+name)
	}
	return goTest(false, extra...)
}

// Coverage writes coverage/coverage.out and an HTML report, then prints the
// per-function summary.
func Coverage() error {
	if err := os.MkdirAll(coverDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", coverDir, err)
	}
	profile := filepath.Join(coverDir, "coverage.out")
	report := filepath.Join(coverDir, "coverage.html")

	if err := goTest(true, "-coverprofile="+profile); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}
	if err := sh.Run("go", "tool", "cover", "-html="+profile, "-o", report); err != nil {
		return fmt.Errorf("rendering %s: %w", report, err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func="+profile); err != nil {
		return err
	}
	fmt.Println("Coverage report:", report)
	return nil
}

// Lint runs golangci-lint.
func Lint() error {
	return runTool("github.com/golangci/golangci-lint/cmd/golangci-lint@latest", "golangci-lint", "run", "./...")
}

// Security runs gosec over non-test code.
func Security() error {
	return runTool("github.com/securego/gosec/v2/cmd/gosec@latest",
		"gosec", "-tests=false", "-exclude-generated", "-fmt=text", pkgs)
}

// Fmt rewrites every Go file with gofmt -s.
func Fmt() error {
	if err := sh.RunV("gofmt", "-w", "-s", "src", "magefile.go"); err != nil {
		return fmt.Errorf("gofmt failed: %w", err)
	}
	return nil
}

// Clean removes bin/ and coverage/.
func Clean() error {
	for _, dir := range []string{binDir, coverDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

// Preflight runs every check a release needs, stopping at the first failure.
func Preflight() {
	mg.SerialDeps(Fmt, Build, Lint, Security, TestRace, Coverage)
	fmt.Println("✅ Preflight passed")
}

// Run builds portwatch and runs it with ARGS (default "scan --dev").
func Run() error {
	mg.Deps(Build)

	args := strings.Fields(os.Getenv("ARGS"))
	if len(args) == 0 {
		args = []string{"scan", "--dev"}
	}
	return sh.RunV(binaryPath(runtime.GOOS, runtime.GOARCH, false), args...)
}
