//go:build !unix

package cmd

import "os"

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".plotherd-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
