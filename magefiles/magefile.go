//go:build mage

// Package main contains Mage build targets for pdfshift developer tooling.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binDir = "bin"

// binaries maps each output name to its main package.
var binaries = map[string]string{
	"pdfshift":        "./cmd/pdfshift",
	"pdfshift-client": "./cmd/pdfshift-client",
}

// scratchDirs are the working directories the server expects under SCRATCH_DIR.
var scratchDirs = []string{"uploads", "outputs", "temp"}

// Init creates the scratch directory layout, world-writable.
func Init() error {
	base := os.Getenv("SCRATCH_DIR")
	if base == "" {
		base = "scratch"
	}
	for _, sub := range scratchDirs {
		dir := filepath.Join(base, sub)
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := os.Chmod(dir, 0o777); err != nil {
			return fmt.Errorf("chmod %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Scratch directories initialized.")
	return nil
}

// Build compiles the server and client binaries into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	for name, pkg := range binaries {
		out := filepath.Join(binDir, name)
		if err := sh.RunV("go", "build", "-o", out, pkg); err != nil {
			return fmt.Errorf("go build %s: %w", pkg, err)
		}
		fmt.Printf("Built %s\n", out)
	}
	return nil
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Run builds everything and starts the server with the local config.
func Run() error {
	mg.Deps(Init, Build)
	return sh.RunWithV(map[string]string{"CONFIG_PATH": "config.yaml"}, filepath.Join(binDir, "pdfshift"))
}

// Clean removes build output.
func Clean() error {
	return sh.Rm(binDir)
}
