package job

import (
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultExecutable is the worker binary name when none is configured.
const DefaultExecutable = "chia"

// Args is the parsed invocation of a worker.
type Args struct {
	K          int    `json:"k"`
	Threads    int    `json:"threads,omitempty"`
	Buckets    int    `json:"buckets,omitempty"`
	BufferMiB  int    `json:"buffer_mib,omitempty"`
	Count      int    `json:"count,omitempty"`
	TmpDir     string `json:"tmp_dir"`
	Tmp2Dir    string `json:"tmp2_dir,omitempty"`
	DstDir     string `json:"dst_dir"`
	NoBitfield bool   `json:"no_bitfield,omitempty"`
}

// flagAliases maps long flags onto their short form.
var flagAliases = map[string]string{
	"--size":        "-k",
	"--num_threads": "-r",
	"--buckets":     "-u",
	"--buffer":      "-b",
	"--num":         "-n",
	"--tmp_dir":     "-t",
	"--tmp2_dir":    "-2",
	"--final_dir":   "-d",
	"--nobitfield":  "-e",

	"--exclude_final_dir": "-x",
}

// boolFlags take no value.
var boolFlags = map[string]bool{"-e": true, "-x": true, "--override-k": true}

// WorkerArgs returns the arguments following "<executable> plots create"
// and true when cmdline is a worker invocation. The executable may be run
// directly or through an interpreter (python .../chia plots create).
func WorkerArgs(executable string, cmdline []string) ([]string, bool) {
	exe := filepath.Base(executable)
	if exe == "" || exe == "." {
		exe = DefaultExecutable
	}
	for i := 0; i < len(cmdline) && i < 2; i++ {
		if filepath.Base(cmdline[i]) != exe {
			continue
		}
		if len(cmdline) >= i+3 && cmdline[i+1] == "plots" && cmdline[i+2] == "create" {
			return cmdline[i+3:], true
		}
	}
	return nil, false
}

// ParseArgs parses worker flags. Unknown flags are skipped; missing values
// keep their defaults (k=32, dst defaults to the tmp dir).
func ParseArgs(args []string) Args {
	out := Args{K: 32}
	for i := 0; i < len(args); i++ {
		flag, value, hasValue := splitFlag(args[i])
		if !strings.HasPrefix(flag, "-") {
			continue
		}
		if alias, ok := flagAliases[flag]; ok {
			flag = alias
		}
		if boolFlags[flag] {
			if flag == "-e" {
				out.NoBitfield = true
			}
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				break
			}
			i++
			value = args[i]
		}
		switch flag {
		case "-k":
			out.K = atoiOr(value, out.K)
		case "-r":
			out.Threads = atoiOr(value, out.Threads)
		case "-u":
			out.Buckets = atoiOr(value, out.Buckets)
		case "-b":
			out.BufferMiB = atoiOr(value, out.BufferMiB)
		case "-n":
			out.Count = atoiOr(value, out.Count)
		case "-t":
			out.TmpDir = filepath.Clean(value)
		case "-2":
			out.Tmp2Dir = filepath.Clean(value)
		case "-d":
			out.DstDir = filepath.Clean(value)
		}
	}
	if out.DstDir == "" {
		out.DstDir = out.TmpDir
	}
	return out
}

// TmpDirs returns the ordered, de-duplicated temp directories.
func (a Args) TmpDirs() []string {
	var dirs []string
	if a.TmpDir != "" {
		dirs = append(dirs, a.TmpDir)
	}
	if a.Tmp2Dir != "" && a.Tmp2Dir != a.TmpDir {
		dirs = append(dirs, a.Tmp2Dir)
	}
	return dirs
}

func splitFlag(arg string) (flag, value string, hasValue bool) {
	if strings.HasPrefix(arg, "--") {
		if idx := strings.IndexByte(arg, '='); idx > 0 {
			return arg[:idx], arg[idx+1:], true
		}
	}
	return arg, "", false
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
