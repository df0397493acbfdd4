package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const projectSchema = `
version: "1.0"
dump_hash: "abc123"
templates:
  Widget:
    resource_path: Data/Widgets
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
      - {name: Power, type: int, offset: "0x20", category: scalar}
      - {name: Partner, type: Widget, offset: "0x28", category: reference}
      - {name: Gadgets, type: "List<Gadget>", offset: "0x30", category: list, element_type: Gadget}
  Gadget:
    loose: true
    embedded_in: [Widget]
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
      - {name: Weight, type: int, offset: "0x20", category: scalar}
  Crate:
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
`

const projectSnapshot = `
object_bases: [UnityEngine.Object]
classes:
  - name: Template
    parent: UnityEngine.Object
    fields:
      - {name: ID, type: string, offset: 24}
  - name: Gadget
    parent: Template
    fields:
      - {name: Weight, type: int, offset: 32}
  - name: Widget
    parent: Template
    fields:
      - {name: Power, type: int, offset: 32}
      - {name: Partner, type: Widget, offset: 40}
      - {name: Gadgets, type: "List<Gadget>", offset: 48}
  - name: Crate
    parent: Template
objects:
  - {id: G1, class: Gadget, fields: {ID: G1, Weight: 1}}
  - {id: G2, class: Gadget, fields: {ID: G2, Weight: 2}}
  - {id: W1, class: Widget, fields: {ID: W1, Power: 10, Partner: "@W2", Gadgets: ["@G1", "@G2"]}}
  - {id: W2, class: Widget, fields: {ID: W2, Power: 20}}
  - {id: C1, class: Crate, fields: {ID: C1}}
loaders:
  authoritative:
    Widget: [W1, W2]
    Crate: [C1]
reveals:
  - {root: Widget, loose: Gadget, objects: [G1, G2]}
`

const projectConfig = `
source:
  snapshot: {{dir}}/heap.yaml
schema:
  path: {{dir}}/schema.yaml
output:
  directory: {{dir}}/out
manifest:
  type: file
  path: {{dir}}/out/.manifest.json
extraction:
  readiness:
    retries: 1
    delay: 1ms
logging:
  level: error
  format: json
  output: stderr
`

// project is a temp directory holding a config, schema and heap snapshot,
// with the CLI package state pointed at it.
type project struct {
	dir    string
	config string
}

func newProject(t *testing.T) *project {
	t.Helper()
	dir := t.TempDir()
	p := &project{dir: dir, config: filepath.Join(dir, "goextract.yaml")}
	p.write(t, "schema.yaml", projectSchema)
	p.write(t, "heap.yaml", projectSnapshot)
	p.write(t, "goextract.yaml", strings.ReplaceAll(projectConfig, "{{dir}}", dir))

	saved := struct {
		cfgFile, logLevel, logFormat, snapshot, output string
		force, quiet                                   bool
		kinds, verifyKinds                             []string
	}{cfgFile, logLevel, logFormat, snapshotPath, outputDir, extractForce, extractQuiet, extractKinds, verifyKinds}
	t.Cleanup(func() {
		cfgFile, logLevel, logFormat = saved.cfgFile, saved.logLevel, saved.logFormat
		snapshotPath, outputDir = saved.snapshot, saved.output
		extractForce, extractQuiet = saved.force, saved.quiet
		extractKinds, verifyKinds = saved.kinds, saved.verifyKinds
	})

	cfgFile = p.config
	logLevel, logFormat, snapshotPath, outputDir = "", "", "", ""
	extractForce, extractQuiet = false, true
	extractKinds, verifyKinds = nil, nil
	return p
}

func (p *project) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(p.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run invokes a command's RunE with its output captured.
func run(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	c.SetOut(&buf)
	defer c.SetOut(nil)
	err := c.RunE(c, args)
	return buf.String(), err
}
