package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/klingon-exchange/crypwallet/internal/chain"
	"github.com/klingon-exchange/crypwallet/internal/chainclient"
)

// checkpointSource picks the checkpoint stream for a setup: the configured
// file, then a file named after the network in the data directory, then the
// checkpoints compiled into btcd.
func checkpointSource(path, dataDir string, params *chain.Params) chainclient.CheckpointSource {
	return func() (io.ReadCloser, error) {
		if path != "" {
			return os.Open(path)
		}
		f, err := os.Open(filepath.Join(dataDir, params.CheckpointFile))
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		return io.NopCloser(params.Checkpoints()), nil
	}
}
