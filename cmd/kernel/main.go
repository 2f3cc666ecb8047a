// Command kernel boots the core described in this repository against a
// user-supplied initproc image. A real deployment embeds initproc's ELF
// bytes directly into the kernel image (spec SS6); this entry point instead
// reads the path from argv, since no actual riscv64 toolchain output ships
// in this repository.
package main

import "fmt"
import "os"

import "kernel"
import "proc"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <initproc-elf>\n", os.Args[0])
		os.Exit(1)
	}
	image, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}

	k, err := kernel.Boot(kernel.Config{InitprocELF: image})
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: boot failed: %v\n", err)
		os.Exit(1)
	}

	// Without a real hart this entry point cannot actually execute user
	// instructions; it runs until the ready queue drains, the outcome of
	// initproc (and anything it forks) exiting on its own.
	k.Run(func(p *proc.Proc_t) (uint64, uint64) {
		return 0, 0
	})
}
