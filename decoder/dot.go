package decoder

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
)

// ToDot renders the stages of the network as a graphviz digraph.
func (n *Network) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	var buf bytes.Buffer
	prev := ""
	for i, s := range n.Stages() {
		buf.Reset()
		if err := stageTmpl.Execute(&buf, s); err != nil {
			panic(err)
		}
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		id := fmt.Sprintf("%d", i)
		g.AddNode("G", id, attrs)
		if prev != "" {
			g.AddEdge(prev, id, true, nil)
		}
		prev = id
	}
	return g.String()
}

const stageTmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Stage</TD><TD>{{.Name}}</TD></TR>
<TR><TD>Op</TD><TD>{{.Op}}</TD></TR>
<TR><TD>Channels</TD><TD>{{.In}} → {{.Out}}</TD></TR>
{{if .Kernels}}<TR><TD>Kernels</TD><TD>{{.Kernels}}</TD></TR>
<TR><TD>Dilation</TD><TD>{{.Dilation}}</TD></TR>
{{end}}<TR><TD>Upsample</TD><TD>{{.Upsample}}</TD></TR>
</TABLE>
>
`

var stageTmpl = template.Must(template.New("stage").Parse(stageTmplRaw))
