package chain

import (
	"bytes"
	"fmt"
	"io"
)

// Checkpoints returns btcd's hardcoded checkpoints for this network in the
// checkpoint file format, one "height hash" line per block.
func (p *Params) Checkpoints() io.Reader {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s checkpoints (btcd chaincfg)\n", p.net.Name)
	for _, cp := range p.net.Checkpoints {
		fmt.Fprintf(&buf, "%d %s\n", cp.Height, cp.Hash)
	}
	return &buf
}
