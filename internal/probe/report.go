package probe

import (
	"fmt"
	"sort"
	"strings"
)

// Report renders r as a tab-separated text report.
func (r Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "drop:\t%s\n", r.SrcFolder)
	fmt.Fprintf(&b, "%-24s\tdir\tsource\tlabel\n", "child")
	for _, c := range r.Children {
		fmt.Fprintf(&b, "%-24s\t%t\t%t\t%t\n", c.Name, c.Dir, c.Source, c.Label)
	}

	writeTree(&b, "source", r.Source)
	writeTree(&b, "label", r.Label)

	if r.Label != nil {
		if len(r.UnknownDBIDs) == 0 {
			b.WriteString("unknown db_ids:\tnone\n")
		} else {
			fmt.Fprintf(&b, "unknown db_ids:\t%d\t%s\n", len(r.UnknownDBIDs), strings.Join(r.UnknownDBIDs, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTree(b *strings.Builder, name string, ts *TreeSample) {
	if ts == nil {
		fmt.Fprintf(b, "%s:\tnot found\n", name)
		return
	}
	fmt.Fprintf(b, "%s:\t%s\n", name, ts.Root)
	fmt.Fprintf(b, "  files=%d json=%d sampled=%d capped=%t not_envelope=%d malformed=%d\n",
		ts.Files, ts.JSONFiles, ts.SampledFiles, ts.Capped, ts.NotEnvelope, ts.MalformedFiles)
	fmt.Fprintf(b, "  elements=%d schemas=%d records=%d db_ids=%d\n",
		ts.Elements, ts.Schemas, ts.Records, len(ts.DBIDs))

	exts := make([]string, 0, len(ts.Extensions))
	for ext := range ts.Extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		label := ext
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(b, "  ext %-10s\t%d\n", label, ts.Extensions[ext])
	}
}
