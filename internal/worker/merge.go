package worker

import (
	"fmt"
	"io"
	"os"
)

// concatFiles appends the inputs, in the order given, into one output file.
// This is a stream copy with no re-encoding: every chunk of one participant
// is captured with the same recording configuration, so the pieces are
// byte-compatible continuations of one stream.
func concatFiles(inputs []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	defer out.Close()

	for _, in := range inputs {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("open %s: %w", in, err)
		}
		if _, err := io.Copy(out, f); err != nil {
			f.Close()
			return fmt.Errorf("copy %s: %w", in, err)
		}
		f.Close()
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", output, err)
	}
	return nil
}
