package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// The runner executes the CI steps inside a golang container through the
// docker CLI; the workflow exposes the docker socket to this process.
func main() {
	race := flag.Bool("race", true, "run tests with the race detector")
	skipLint := flag.Bool("skip-lint", false, "skip golangci-lint")
	image := flag.String("image", "golang:1.25", "container image")
	flag.Parse()

	// Run from dagger/pipeline: the module root is two levels up.
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get cwd: %v\n", err)
		os.Exit(1)
	}
	repoRoot := filepath.Clean(filepath.Join(cwd, "..", ".."))

	steps := []string{"set -e", "go vet ./..."}
	if *race {
		steps = append(steps, "go test -race ./...")
	} else {
		steps = append(steps, "go test ./...")
	}
	if !*skipLint {
		steps = append(steps,
			"go install github.com/golangci/golangci-lint/v2/cmd/golangci-lint@latest",
			"$GOBIN/golangci-lint run ./...")
	}
	steps = append(steps,
		"go install golang.org/x/vuln/cmd/govulncheck@latest",
		"$GOBIN/govulncheck ./...")

	cmd := fmt.Sprintf(
		"docker run --rm -e GOBIN=/go/bin -v %s:/src -w /src %s /bin/sh -c '%s'",
		repoRoot, *image, strings.Join(steps, "; "),
	)

	fmt.Println("running:", cmd)

	out, err := exec.Command("sh", "-c", cmd).CombinedOutput()
	fmt.Print(string(out))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("pipeline completed: vet, tests, lint, and vulncheck passed")
}
