// Package dot implements the Graphviz DOT exporter: a plugin that watches
// every update produced by one collection cycle and renders the resulting
// entity graph to a file, rewritten in full on each cycle.
//
// Grounded on the original DOT writer: this is the one component with no
// third-party library backing it, since no package in the dependency
// corpus offers a DOT/Graphviz writer and the format itself is a handful
// of literal text lines per node and edge.
package dot

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // palette selection only, not a security boundary
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/config"
	"github.com/cobeio/entityd-sub000/internal/entity"
)

var palette = []string{
	"#FFC86C", "#EA8279", "#8850A4", "#8EBFEF",
	"#F29C9C", "#AC98B6", "#AEAEAE", "#C2F488",
}

// Exporter is the entityd_collection_after plugin that writes path on
// every cycle.
type Exporter struct {
	log     zerolog.Logger
	path    string
	foreign config.DotForeign
	pretty  bool
}

// New creates an Exporter. If path is empty, CollectionAfter is a no-op —
// matching the "no --dot given, no file written" behaviour.
func New(path string, foreign config.DotForeign, pretty bool, log zerolog.Logger) *Exporter {
	return &Exporter{
		log:     log.With().Str("component", "dot").Logger(),
		path:    path,
		foreign: foreign,
		pretty:  pretty,
	}
}

// CollectionAfter renders updates as a DOT graph and overwrites the
// exporter's configured file with it.
func (e *Exporter) CollectionAfter(updates []*entity.Update) error {
	if e.path == "" {
		return nil
	}

	byUEID := make(map[entity.UEID]*entity.Update, len(updates))
	for _, u := range updates {
		byUEID[u.UEID()] = u
	}

	type edge struct {
		parent, child entity.UEID
	}
	edgeSet := make(map[edge]struct{})
	for _, u := range byUEID {
		for _, p := range u.Parents().List() {
			edgeSet[edge{parent: p, child: u.UEID()}] = struct{}{}
		}
		for _, c := range u.Children().List() {
			edgeSet[edge{parent: u.UEID(), child: c}] = struct{}{}
		}
	}

	var buf bytes.Buffer
	e.writeHeader(&buf)
	for _, u := range byUEID {
		e.writeNode(&buf, u)
	}
	for edge := range edgeSet {
		if !e.writeEdge(&buf, byUEID, edge.parent, edge.child) {
			continue
		}
	}
	e.writeFooter(&buf)

	if err := os.WriteFile(e.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing DOT file %s: %w", e.path, err)
	}
	e.log.Debug().Str("path", e.path).Int("nodes", len(byUEID)).Msg("wrote DOT graph")
	return nil
}

func (e *Exporter) line(buf *bytes.Buffer, s string) {
	if e.pretty {
		buf.WriteString("  ")
	}
	buf.WriteString(s)
	buf.WriteByte('\n')
}

func (e *Exporter) writeHeader(buf *bytes.Buffer) {
	buf.WriteString("digraph G {\n")
	e.line(buf, `graph [overlap=prism];`)
	e.line(buf, `graph [rankdir=LR];`)
	e.line(buf, `graph [splines=true];`)
	e.line(buf, `graph [bgcolor="#ffffff"];`)
	e.line(buf, `node [color=white];`)
	e.line(buf, `node [fillcolor=white];`)
	e.line(buf, `node [shape=box];`)
	e.line(buf, `node [style=filled];`)
	e.line(buf, `edge [arrowhead=open];`)
}

func (e *Exporter) writeNode(buf *bytes.Buffer, u *entity.Update) {
	namespace, kind := splitType(u.Type())
	borderColour := colour(namespace, "")
	backgroundColour := "#ffffff"
	if kind != "" {
		backgroundColour = colour(kind, borderColour)
	}
	label, _ := u.Label()
	e.line(buf, fmt.Sprintf(
		`"%s" [label="%s\n%s", color="%s" fillcolor="%s"];`,
		u.UEID().Hex(), u.Type(), label, borderColour, backgroundColour,
	))
}

// writeEdge renders one parent->child edge. A reference to a UEID that
// wasn't itself produced this cycle (a "foreign" node — a cross-cycle
// parent/child never emitted this time) is handled per --dot-foreign.
func (e *Exporter) writeEdge(buf *bytes.Buffer, byUEID map[entity.UEID]*entity.Update, parent, child entity.UEID) bool {
	_, parentKnown := byUEID[parent]
	_, childKnown := byUEID[child]
	if parentKnown && childKnown {
		e.line(buf, fmt.Sprintf(`"%s" -> "%s";`, parent.Hex(), child.Hex()))
		return true
	}

	switch e.foreign {
	case config.DotForeignExclude:
		return false
	case config.DotForeignUEIDShort:
		e.line(buf, fmt.Sprintf(`"%s" -> "%s";`, shortForeign(parent, parentKnown), shortForeign(child, childKnown)))
		return true
	case config.DotForeignUEID, config.DotForeignDefault:
		e.line(buf, fmt.Sprintf(`"%s" -> "%s";`, parent.Hex(), child.Hex()))
		return true
	default:
		e.line(buf, fmt.Sprintf(`"%s" -> "%s";`, parent.Hex(), child.Hex()))
		return true
	}
}

func shortForeign(u entity.UEID, known bool) string {
	if known {
		return u.Hex()
	}
	hex := u.Hex()
	if len(hex) > 8 {
		return hex[:8]
	}
	return hex
}

func (e *Exporter) writeFooter(buf *bytes.Buffer) {
	buf.WriteString("}\n")
}

func splitType(metype string) (namespace, kind string) {
	idx := strings.LastIndex(metype, ":")
	if idx < 0 {
		return metype, ""
	}
	return metype[:idx], metype[idx+1:]
}

// colour deterministically picks a palette entry for s, excluding exclude
// if given, mirroring the original hash-based palette selection.
func colour(s, exclude string) string {
	sum := sha1.Sum([]byte(s))
	n := new(big.Int).SetBytes(sum[:])
	idx := new(big.Int).Mod(n, big.NewInt(int64(len(palette)))).Int64()
	c := palette[idx]
	if c != exclude {
		return c
	}
	return palette[(idx+1)%int64(len(palette))]
}
