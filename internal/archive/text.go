package archive

import (
	"fmt"
	"io"
	"time"
)

// WriteText renders p as a header line followed by one tab-separated line
// per entry: sequence, protocol id, sender, timestamp.
func (p Page) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "first=%s last=%s count=%d complete=%t stable=%t\n",
		p.First, p.Last, p.Count, p.Complete, p.Stable); err != nil {
		return err
	}
	for _, e := range p.Entries {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			e.Sequence, e.ProtocolID, e.Sender, e.Timestamp.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}
