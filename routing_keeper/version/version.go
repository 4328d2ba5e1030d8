package version

import (
	"flag"
	"fmt"
	"os"
)

// Both are stamped with -ldflags "-X" at build time.
var (
	GitCommitId string
	BuildTime   string

	flagVersion = flag.Bool("version", false, "print version and exit")
)

func Describe() string {
	commit, built := GitCommitId, BuildTime
	if commit == "" {
		commit = "unknown"
	}
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("git commit id: %s, build time: %s", commit, built)
}

func MayPrintVersionAndExit() {
	if *flagVersion {
		fmt.Println(Describe())
		os.Exit(0)
	}
}
