// Command dicomctl is a read-only inspection tool for whole-slide-image
// pyramids: DICOM multiframe series, hierarchical TIFFs, and plain images.
package main

import (
	"os"

	cmd "github.com/pspoerri/dicomizer/cmd/dicomctl/cmd"
)

func main() {
	if err := cmd.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
